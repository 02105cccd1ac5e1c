package sqlinline

const QEnsureTextKeyPools = `--sql 3f1c9a2e-5b7d-4e08-9c61-2d4a7b8e0f53
create table if not exists text_key_pools (
    provider text primary key,
    keys text not null,
    key_count int not null default 0,
    updated_at timestamptz not null default now()
);
`

const QSelectTextKeyPool = `--sql b6e2d4f1-0a93-4c7e-8f25-61d9c3a7e4b0
select keys
from text_key_pools
where provider = $1::text;
`

const QUpsertTextKeyPool = `--sql e9a07c35-2f6b-4d18-a4c2-7b5e1f08d396
insert into text_key_pools (provider, keys, key_count, updated_at)
values ($1::text, $2::text, $3::int, now())
on conflict (provider) do update set
    keys = excluded.keys,
    key_count = excluded.key_count,
    updated_at = now();
`
