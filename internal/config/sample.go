package config

// Sample is the starter configuration written by `launch-watch init`.
const Sample = `version: 1

global:
  db_path: launch-watch.db
  log_level: info
  learn_wallets: true
  workers: 8
  dedupe_ttl: 24h
  fast_path_timeout: 3s

chain:
  ws_url: ${WS_RPC_URL}
  probe_interval: 30s
  reconnect_backoff: 5s
  handshake_timeout: 30s
  backfill_blocks: 500
  abi_dirs: []

contracts:
  - family: primary
    label: factory-v3
    address: "0x0000000000000000000000000000000000000001"
    event: "TokenCreated(address,address,string,string)"
    creator_topic: true
  - family: secondary
    label: coin-factory
    address: "0x0000000000000000000000000000000000000002"
    event: "CoinCreated(address,address,string,string)"
    creator_topic: true

resolvers:
  retry:
    attempts: 3
    delay: 2s
  primary:
    name: primary launchpad
    base_url: https://api.primary.example
    timeout: 10s
  secondary:
    name: secondary launchpad
    base_url: https://api.secondary.example
    timeout: 10s
  overlay:
    name: social overlay
    base_url: https://api.overlay.example
    timeout: 10s

notifiers:
  - id: tg
    type: telegram
    bot_token: ${TELEGRAM_BOT_TOKEN}
    chat_id: ${TELEGRAM_CHAT_ID}
    commands: true
`
