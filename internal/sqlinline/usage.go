package sqlinline

const QInsertGenerationJob = `--sql 922ac527-4c05-4e29-9d40-aa7867075c57
insert into generation_jobs (
  id,
  account_id,
  kind,
  status,
  input_tokens,
  output_tokens,
  total_tokens,
  model_used,
  metadata,
  created_at
)
values ($1::uuid, $2::text, $3::text, $4::text, $5::int, $6::int, $7::int, $8::text, $9::jsonb, $10::timestamptz);
`

// The generation_id foreign key keeps artifacts from referencing a job that
// was never written.
const QInsertArtifactImage = `--sql a80de520-69cf-41c2-8f20-23a8e4251f03
insert into artifact_images (
  id,
  generation_id,
  account_id,
  label,
  storage_path,
  file_size_bytes,
  created_at
)
values ($1::uuid, $2::uuid, $3::text, $4::text, $5::text, $6::bigint, $7::timestamptz);
`
