package sqlinline

// Every ledger mutation is a single UPDATE on the account row, so Postgres
// row locking serializes concurrent writers on the same account and re-checks
// the WHERE clause against the latest row version.

const QSelectAccount = `--sql cd22a767-30d0-4053-8631-3644db9d4ef3
select id, token_balance, free_used, free_limit, daily_reward_claimed_at, created_at, updated_at
from accounts
where id = $1::text;
`

const QInsertAccount = `--sql acfe46b2-d773-4e71-bbaa-9f8945442f82
insert into accounts (id, token_balance, free_used, free_limit)
values ($1::text, $2::int, 0, $3::int)
on conflict (id) do nothing;
`

// QDeductCharge: $2 units, $3 tokens per unit, $4 free-tier eligible.
const QDeductCharge = `--sql ceb27508-eb25-4763-92aa-e1a49ef611f7
with
input as (
  select
    $1::text as account_id,
    $2::int  as units,
    $3::int  as unit_tokens,
    $4::bool as free_eligible
)
update accounts a
set free_used = a.free_used + (
      case when i.free_eligible then least(i.units, greatest(a.free_limit - a.free_used, 0)) else 0 end
    ),
    token_balance = a.token_balance - (
      i.units - (case when i.free_eligible then least(i.units, greatest(a.free_limit - a.free_used, 0)) else 0 end)
    ) * i.unit_tokens,
    updated_at = now()
from input i
where a.id = i.account_id
  and a.token_balance >= (
      i.units - (case when i.free_eligible then least(i.units, greatest(a.free_limit - a.free_used, 0)) else 0 end)
    ) * i.unit_tokens
returning a.id, a.token_balance, a.free_used, a.free_limit, a.daily_reward_claimed_at, a.created_at, a.updated_at;
`

// QClaimDailyReward: $2 reward tokens, $3 claim time.
const QClaimDailyReward = `--sql d4e79135-8bd5-4f0e-a826-b07db9aed702
update accounts
set token_balance = token_balance + $2::int,
    daily_reward_claimed_at = $3::timestamptz,
    updated_at = now()
where id = $1::text
  and (daily_reward_claimed_at is null or daily_reward_claimed_at <= $3::timestamptz - interval '24 hours')
returning id, token_balance, free_used, free_limit, daily_reward_claimed_at, created_at, updated_at;
`

const QAddTokens = `--sql 1f5898d6-2ba0-494a-b920-c106a73d9489
update accounts
set token_balance = token_balance + $2::int,
    updated_at = now()
where id = $1::text
returning id, token_balance, free_used, free_limit, daily_reward_claimed_at, created_at, updated_at;
`

const QAdjustTokens = `--sql 00d2b1a1-b857-40a6-b5ad-36b9c56fadfe
update accounts
set token_balance = greatest(token_balance + $2::int, 0),
    updated_at = now()
where id = $1::text
returning id, token_balance, free_used, free_limit, daily_reward_claimed_at, created_at, updated_at;
`
