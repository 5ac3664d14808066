package sqlinline

const QCreateBatchRunsTable = `--sql 282f624e-4dbf-4eb0-9bbb-b38eb3dfa4bd
create table if not exists batch_runs (
    id uuid primary key,
    status text not null,
    requested int not null default 0,
    attempted int not null default 0,
    succeeded int not null default 0,
    report_path text not null default '',
    error_message text not null default '',
    entries jsonb not null default '[]'::jsonb,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
`

const QInsertBatchRun = `--sql 7b919622-f029-448a-9198-d3037668c74b
insert into batch_runs (id, status, requested, created_at, updated_at)
values ($1::uuid, $2::text, $3::int, $4::timestamptz, $4::timestamptz);
`

const QFinishBatchRun = `--sql f6b42592-779d-4441-b3c6-1ef7a16e6824
update batch_runs
set status = $2::text,
    attempted = $3::int,
    succeeded = $4::int,
    report_path = $5::text,
    error_message = $6::text,
    entries = $7::jsonb,
    updated_at = now()
where id = $1::uuid;
`

const QSelectBatchRunByID = `--sql 14de7275-76a8-4e7e-9154-968335ee9278
select id::text, status, requested, attempted, succeeded, report_path, error_message, entries, created_at, updated_at
from batch_runs
where id = $1::uuid
limit 1;
`

const QListRecentBatchRuns = `--sql 25533195-3286-4b8c-b0d5-521bd4ff9b4c
select id::text, status, requested, attempted, succeeded, report_path, error_message, entries, created_at, updated_at
from batch_runs
order by created_at desc
limit $1::int;
`
