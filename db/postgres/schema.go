package postgres

// Surrogate ids come from the *_id_seq sequences, reserved per batch and
// written through the binary COPY protocol, so no column uses a serial type.
const schemaDDL = `
CREATE SEQUENCE IF NOT EXISTS entities_id_seq;
CREATE SEQUENCE IF NOT EXISTS entity_resource_history_id_seq;
CREATE SEQUENCE IF NOT EXISTS entity_metadata_history_id_seq;
CREATE SEQUENCE IF NOT EXISTS entity_resource_aggregate_history_id_seq;
CREATE SEQUENCE IF NOT EXISTS resource_supply_history_id_seq;

CREATE TABLE IF NOT EXISTS entities (
    id BIGINT PRIMARY KEY,
    from_state_version BIGINT NOT NULL,
    address BYTEA NOT NULL UNIQUE,
    global_address BYTEA,
    parent_id BIGINT,
    owner_ancestor_id BIGINT,
    global_ancestor_id BIGINT,
    ancestor_ids BIGINT[],
    type TEXT NOT NULL,
    kind TEXT
);

CREATE INDEX IF NOT EXISTS idx_entities_global_address
    ON entities (global_address) WHERE global_address IS NOT NULL;

CREATE TABLE IF NOT EXISTS ledger_transactions (
    state_version BIGINT PRIMARY KEY,
    status TEXT NOT NULL,
    payload_hash BYTEA,
    intent_hash BYTEA,
    signed_hash BYTEA,
    transaction_accumulator BYTEA,
    fee_paid NUMERIC(1000, 0) NOT NULL,
    epoch BIGINT NOT NULL,
    index_in_epoch BIGINT NOT NULL,
    round_in_epoch BIGINT NOT NULL,
    is_user_transaction BOOLEAN NOT NULL,
    is_start_of_epoch BOOLEAN NOT NULL,
    is_start_of_round BOOLEAN NOT NULL,
    is_only_round_change BOOLEAN NOT NULL,
    round_timestamp TIMESTAMPTZ NOT NULL,
    created_timestamp TIMESTAMPTZ NOT NULL,
    normalized_timestamp TIMESTAMPTZ NOT NULL,
    affected_entity_ids BIGINT[]
);

CREATE INDEX IF NOT EXISTS idx_ledger_transactions_epoch
    ON ledger_transactions (epoch, round_in_epoch);

CREATE TABLE IF NOT EXISTS entity_resource_history (
    id BIGINT PRIMARY KEY,
    from_state_version BIGINT NOT NULL,
    owner_entity_id BIGINT NOT NULL,
    global_entity_id BIGINT NOT NULL,
    resource_entity_id BIGINT NOT NULL,
    type TEXT NOT NULL,
    balance NUMERIC(1000, 0),
    non_fungible_ids TEXT[]
);

CREATE INDEX IF NOT EXISTS idx_entity_resource_history_owner
    ON entity_resource_history (owner_entity_id, resource_entity_id, from_state_version);

CREATE INDEX IF NOT EXISTS idx_entity_resource_history_global
    ON entity_resource_history (global_entity_id, resource_entity_id, from_state_version);

CREATE TABLE IF NOT EXISTS entity_metadata_history (
    id BIGINT PRIMARY KEY,
    from_state_version BIGINT NOT NULL,
    entity_id BIGINT NOT NULL,
    keys TEXT[] NOT NULL,
    values TEXT[] NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entity_metadata_history_entity
    ON entity_metadata_history (entity_id, from_state_version);

CREATE TABLE IF NOT EXISTS resource_supply_history (
    id BIGINT PRIMARY KEY,
    from_state_version BIGINT NOT NULL,
    resource_entity_id BIGINT NOT NULL,
    total_supply NUMERIC(1000, 0) NOT NULL,
    total_minted NUMERIC(1000, 0) NOT NULL,
    total_burnt NUMERIC(1000, 0) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_resource_supply_history_resource
    ON resource_supply_history (resource_entity_id, from_state_version);

CREATE TABLE IF NOT EXISTS entity_resource_aggregate_history (
    id BIGINT PRIMARY KEY,
    from_state_version BIGINT NOT NULL,
    entity_id BIGINT NOT NULL,
    is_most_recent BOOLEAN NOT NULL DEFAULT FALSE,
    fungible_resource_ids BIGINT[] NOT NULL,
    non_fungible_resource_ids BIGINT[] NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_aggregate_history_most_recent
    ON entity_resource_aggregate_history (entity_id) WHERE is_most_recent;

CREATE TABLE IF NOT EXISTS ledger_status (
    id INT PRIMARY KEY,
    top_of_ledger_state_version BIGINT NOT NULL,
    sync_target_state_version BIGINT NOT NULL,
    last_updated TIMESTAMPTZ NOT NULL
);
`
