package api

const (
	HealthCheckRoute = "/healthz"
	AboutRoute       = "/v1/about"

	FetchSecretsRoute = "/secrets"

	AdminParent     = "/v1/admin/"
	ListAuditsRoute = AdminParent + "audit"
)
