// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package journal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"compute-gateway/internal/gateway/callid"
	gwerrors "compute-gateway/pkg/errors"
)

// Schema contract_call_outcomes 表结构；PgJournal 启动时会执行
const Schema = `CREATE TABLE IF NOT EXISTS contract_call_outcomes (
	call_id     BYTEA PRIMARY KEY,
	output      BYTEA,
	error       TEXT NOT NULL DEFAULT '',
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PgJournal 基于 PostgreSQL 的 journal
type PgJournal struct {
	pool *pgxpool.Pool
}

// NewPostgres 连接 dsn 并确保表存在
func NewPostgres(ctx context.Context, dsn string) (*PgJournal, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create journal schema: %w", err)
	}
	return &PgJournal{pool: pool}, nil
}

// Close 关闭连接池
func (p *PgJournal) Close() {
	p.pool.Close()
}

func (p *PgJournal) Save(ctx context.Context, e Entry) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO contract_call_outcomes (call_id, output, error, recorded_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (call_id) DO UPDATE
		 SET output = EXCLUDED.output, error = EXCLUDED.error, recorded_at = EXCLUDED.recorded_at
		 WHERE contract_call_outcomes.recorded_at < EXCLUDED.recorded_at`,
		e.ID.Bytes(), e.Output, e.Error, e.RecordedAt)
	return err
}

func (p *PgJournal) Lookup(ctx context.Context, id callid.ID) (Entry, error) {
	e := Entry{ID: id}
	err := p.pool.QueryRow(ctx,
		`SELECT output, error, recorded_at FROM contract_call_outcomes WHERE call_id = $1`,
		id.Bytes()).Scan(&e.Output, &e.Error, &e.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, gwerrors.ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	return e, nil
}

var _ Journal = (*PgJournal)(nil)
