// Copyright (c) 2025 Rowdeck
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlexec

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rowdeck/cli/internal/result"
	"rowdeck/cli/internal/session"
)

// querier is the part of pgxpool.Pool the inspector uses.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// source is the relation column behind a result column.
type source struct {
	rel  result.Relation
	name string
}

type attrKey struct {
	table uint32
	num   uint16
}

// Inspector reads and caches catalog metadata: relation columns and keys,
// result column provenance and type names. Lookups run on their own pooled
// connection so they never interleave with an open row stream.
type Inspector struct {
	db querier

	mu        sync.RWMutex
	relations map[result.Relation]session.RelationMeta
	attrs     map[attrKey]source
	types     map[uint32]string
}

// NewInspector creates an inspector over pool.
func NewInspector(pool *pgxpool.Pool) *Inspector {
	return newInspector(pool)
}

func newInspector(db querier) *Inspector {
	return &Inspector{
		db:        db,
		relations: make(map[result.Relation]session.RelationMeta),
		attrs:     make(map[attrKey]source),
		types:     make(map[uint32]string),
	}
}

// ClearCache drops everything cached, e.g. after a reconnect or DDL.
func (in *Inspector) ClearCache() {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.relations = make(map[result.Relation]session.RelationMeta)
	in.attrs = make(map[attrKey]source)
	in.types = make(map[uint32]string)
}

const relationColumnsSQL = `
	SELECT a.attname, format_type(a.atttypid, a.atttypmod), NOT a.attnotnull
	FROM pg_attribute a
	JOIN pg_class c ON c.oid = a.attrelid
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE n.nspname = $1 AND c.relname = $2 AND a.attnum > 0 AND NOT a.attisdropped
	ORDER BY a.attnum`

const relationKeysSQL = `
	SELECT con.contype::text, array_agg(a.attname ORDER BY k.ord)
	FROM pg_constraint con
	JOIN pg_class c ON c.oid = con.conrelid
	JOIN pg_namespace n ON n.oid = c.relnamespace
	CROSS JOIN LATERAL unnest(con.conkey) WITH ORDINALITY AS k(attnum, ord)
	JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = k.attnum
	WHERE n.nspname = $1 AND c.relname = $2 AND con.contype IN ('p', 'u')
	GROUP BY con.oid, con.contype
	ORDER BY con.contype, con.oid`

// Relation returns the columns, primary key and unique constraints of rel.
// An unqualified relation is looked up in public.
func (in *Inspector) Relation(ctx context.Context, rel result.Relation) (session.RelationMeta, error) {
	if rel.Schema == "" {
		rel.Schema = "public"
	}
	in.mu.RLock()
	if meta, ok := in.relations[rel]; ok {
		in.mu.RUnlock()
		return meta, nil
	}
	in.mu.RUnlock()

	meta := session.RelationMeta{Relation: rel}
	rows, err := in.db.Query(ctx, relationColumnsSQL, rel.Schema, rel.Name)
	if err != nil {
		return meta, classify(err)
	}
	for rows.Next() {
		var c session.ColumnMeta
		if err := rows.Scan(&c.Name, &c.Type, &c.Nullable); err != nil {
			rows.Close()
			return meta, classify(err)
		}
		meta.Columns = append(meta.Columns, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return meta, classify(err)
	}
	if len(meta.Columns) == 0 {
		return meta, fmt.Errorf("relation %s does not exist", rel)
	}

	rows, err = in.db.Query(ctx, relationKeysSQL, rel.Schema, rel.Name)
	if err != nil {
		return meta, classify(err)
	}
	for rows.Next() {
		var kind string
		var cols []string
		if err := rows.Scan(&kind, &cols); err != nil {
			rows.Close()
			return meta, classify(err)
		}
		if kind == "p" {
			meta.PrimaryKey = cols
		} else {
			meta.Unique = append(meta.Unique, cols)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return meta, classify(err)
	}

	in.mu.Lock()
	in.relations[rel] = meta
	in.mu.Unlock()
	return meta, nil
}

const attributesSQL = `
	SELECT c.oid, a.attnum, n.nspname, c.relname, a.attname
	FROM pg_attribute a
	JOIN pg_class c ON c.oid = a.attrelid
	JOIN pg_namespace n ON n.oid = c.relnamespace
	WHERE c.oid = ANY($1) AND a.attnum > 0`

// annotate fills Relation and Base for columns that come straight from a
// table column, as reported by the row description.
func (in *Inspector) annotate(ctx context.Context, cols []result.Column, keys []attrKey) error {
	var missing []uint32
	seen := map[uint32]bool{}
	in.mu.RLock()
	for _, k := range keys {
		if k.table == 0 || seen[k.table] {
			continue
		}
		if _, ok := in.attrs[k]; !ok {
			missing = append(missing, k.table)
			seen[k.table] = true
		}
	}
	in.mu.RUnlock()

	if len(missing) > 0 {
		rows, err := in.db.Query(ctx, attributesSQL, missing)
		if err != nil {
			return classify(err)
		}
		found := map[attrKey]source{}
		for rows.Next() {
			var (
				oid    uint32
				num    int16
				schema string
				table  string
				column string
			)
			if err := rows.Scan(&oid, &num, &schema, &table, &column); err != nil {
				rows.Close()
				return classify(err)
			}
			found[attrKey{oid, uint16(num)}] = source{rel: result.Relation{Schema: schema, Name: table}, name: column}
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return classify(err)
		}
		in.mu.Lock()
		for k, v := range found {
			in.attrs[k] = v
		}
		in.mu.Unlock()
	}

	in.mu.RLock()
	defer in.mu.RUnlock()
	for i, k := range keys {
		if src, ok := in.attrs[k]; ok {
			cols[i].Relation = src.rel
			cols[i].Base = src.name
		}
	}
	return nil
}

// typeNames resolves type OIDs the connection's type map does not know,
// such as enums and domains.
func (in *Inspector) typeNames(ctx context.Context, oids []uint32) (map[uint32]string, error) {
	out := make(map[uint32]string, len(oids))
	var missing []uint32
	in.mu.RLock()
	for _, oid := range oids {
		if name, ok := in.types[oid]; ok {
			out[oid] = name
		} else {
			missing = append(missing, oid)
		}
	}
	in.mu.RUnlock()
	if len(missing) == 0 {
		return out, nil
	}

	rows, err := in.db.Query(ctx, `SELECT oid, format_type(oid, NULL) FROM pg_type WHERE oid = ANY($1)`, missing)
	if err != nil {
		return out, classify(err)
	}
	defer rows.Close()
	in.mu.Lock()
	defer in.mu.Unlock()
	for rows.Next() {
		var oid uint32
		var name string
		if err := rows.Scan(&oid, &name); err != nil {
			return out, classify(err)
		}
		in.types[oid] = name
		out[oid] = name
	}
	return out, classify(rows.Err())
}
