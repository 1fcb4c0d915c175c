package pgstore

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaDDL = `
create table if not exists accounts (
	account_id         text primary key,
	credit_limit       numeric(18,2) not null,
	available_credit   numeric(18,2) not null,
	balance_in_favor   numeric(18,2) not null,
	accumulated_profit numeric(18,2) not null,
	created_at         timestamptz not null,
	updated_at         timestamptz not null
);

create table if not exists ledger_entries (
	entry_id                  uuid primary key,
	account_id                text not null references accounts(account_id),
	sequence                  bigint not null,
	type                      text not null,
	amount                    numeric(18,2) not null,
	previous_available_credit numeric(18,2) not null,
	available_credit          numeric(18,2) not null,
	previous_balance_in_favor numeric(18,2) not null,
	remaining_balance         numeric(18,2) not null,
	balance_in_favor_used     numeric(18,2) not null,
	credit_used               numeric(18,2) not null,
	profit_earned             numeric(18,2) not null,
	credit_limit              numeric(18,2) not null,
	accumulated_debt          numeric(18,2) not null,
	accumulated_profit        numeric(18,2) not null,
	detail                    jsonb not null default '{}',
	metadata                  jsonb not null default '{}',
	created_at                timestamptz not null
);

create unique index if not exists uniq_entries_account_sequence on ledger_entries(account_id, sequence);
create index if not exists idx_entries_account_created on ledger_entries(account_id, created_at);
`

// EnsureSchema creates the ledger tables and indexes when they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCreate, err)
	}
	return nil
}
