package config

// ProxyConfig is the root configuration for the metered reverse-proxy.
// Populated by config.Load, which layers a TOML file under environment
// variable overrides (see cleanenv's ReadConfig semantics).
type ProxyConfig struct {
	Server struct {
		Addr string `toml:"addr" env:"ROUTSTR_SERVER_ADDR" env-default:":8080"`
	} `toml:"server"`

	Upstream struct {
		BaseURL               string `toml:"base_url" env:"UPSTREAM_BASE_URL"`
		APIKey                string `toml:"api_key" env:"UPSTREAM_API_KEY"`
		ChatCompletionsAPIVer string `toml:"chat_completions_api_version" env:"CHAT_COMPLETIONS_API_VERSION"`
	} `toml:"upstream"`

	Pricing struct {
		ModelBasedPricing     bool  `toml:"model_based_pricing" env:"MODEL_BASED_PRICING" env-default:"true"`
		CostPerRequestSats    int64 `toml:"cost_per_request" env:"COST_PER_REQUEST" env-default:"1"`
		CostPer1kInputSats    int64 `toml:"cost_per_1k_input_tokens" env:"COST_PER_1K_INPUT_TOKENS" env-default:"0"`
		CostPer1kOutputSats   int64 `toml:"cost_per_1k_output_tokens" env:"COST_PER_1K_OUTPUT_TOKENS" env-default:"0"`
		TolerancePercentage   int64 `toml:"tolerance_percentage" env:"TOLERANCE_PERCENTAGE" env-default:"1"`
		ModelCatalogPath      string `toml:"model_catalog_path" env:"MODEL_CATALOG_PATH" env-default:"models.json"`
		CatalogRefreshSeconds int64  `toml:"catalog_refresh_seconds" env:"CATALOG_REFRESH_SECONDS" env-default:"10"`
	} `toml:"pricing"`

	Oracle struct {
		ExchangeFee      float64 `toml:"exchange_fee" env:"EXCHANGE_FEE" env-default:"1.005"`
		PollSeconds      int64   `toml:"poll_seconds" env:"ORACLE_POLL_SECONDS" env-default:"10"`
		FetchTimeoutSecs int64   `toml:"fetch_timeout_seconds" env:"ORACLE_FETCH_TIMEOUT_SECONDS" env-default:"5"`
	} `toml:"oracle"`

	Cashu struct {
		MintURL        string `toml:"mint_url" env:"CASHU_MINT_URL"`
		SendRetries    int64  `toml:"send_retries" env:"CASHU_SEND_RETRIES" env-default:"3"`
		RequestTimeout int64  `toml:"request_timeout_seconds" env:"CASHU_REQUEST_TIMEOUT_SECONDS" env-default:"15"`
	} `toml:"cashu"`

	Database struct {
		Host            string `toml:"host" env:"ROUTSTR_DB_HOST"`
		Port            string `toml:"port" env:"ROUTSTR_DB_PORT" env-default:"5432"`
		User            string `toml:"user" env:"ROUTSTR_DB_USER"`
		Password        string `toml:"password" env:"ROUTSTR_DB_PASSWORD"`
		DB              string `toml:"db" env:"ROUTSTR_DB_NAME"`
		SslMode         string `toml:"ssl_mode" env:"ROUTSTR_DB_SSL_MODE" env-default:"disable"`
		MaxConns        int    `toml:"max_conns" env:"ROUTSTR_DB_MAX_CONNS" env-default:"25"`
		MinConns        int    `toml:"min_conns" env:"ROUTSTR_DB_MIN_CONNS" env-default:"5"`
		MaxConnLifetime int    `toml:"max_conn_lifetime" env:"ROUTSTR_DB_MAX_CONN_LIFETIME" env-default:"5"`
		MaxConnIdleTime int    `toml:"max_conn_idle_time" env:"ROUTSTR_DB_MAX_CONN_IDLE_TIME" env-default:"1"`
	} `toml:"database"`

	Redis struct {
		Host     string `toml:"host" env:"ROUTSTR_REDIS_HOST"`
		Port     string `toml:"port" env:"ROUTSTR_REDIS_PORT" env-default:"6379"`
		Password string `toml:"password" env:"ROUTSTR_REDIS_PASSWORD"`
		DB       int    `toml:"db" env:"ROUTSTR_REDIS_DB" env-default:"0"`
	} `toml:"redis"`

	Crypto struct {
		// 32 raw bytes, base64-encoded, used for refund_address-at-rest AES-256-GCM.
		RefundAddressKeyB64 string `toml:"refund_address_key" env:"REFUND_ADDRESS_ENCRYPTION_KEY"`
	} `toml:"crypto"`

	Log struct {
		Level  string `toml:"level" env:"LOG_LEVEL" env-default:"info"`
		Format string `toml:"format" env:"LOG_FORMAT" env-default:"json"`
	} `toml:"log"`
}
