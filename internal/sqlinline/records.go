package sqlinline

const QEnsureGenerationRecords = `--sql 611dc34d-e2bf-458a-96c7-f2d33d077865
create table if not exists generation_records (
    id uuid primary key,
    runner text not null,
    record_date date not null,
    created_at timestamptz not null,
    system_prompt text not null,
    user_prompt text not null,
    generated_prompt text not null,
    artifact_location text not null
);
`

const QInsertGenerationRecord = `--sql 8a6739ce-c693-4de8-a376-8d3fa64cb397
insert into generation_records (
    id, runner, record_date, created_at, system_prompt, user_prompt, generated_prompt, artifact_location
)
values ($1::uuid, $2::text, $3::date, $4::timestamptz, $5::text, $6::text, $7::text, $8::text);
`

const QSelectRecentGenerationRecords = `--sql 9aa2a8ed-58ca-41ea-b35b-721e4e2d3721
select id::text, runner, created_at, system_prompt, user_prompt, generated_prompt, artifact_location
from generation_records
order by created_at desc
limit $1::int;
`
