package callercontext

// Locals keys set by the internal token middleware
const (
	KeyCaller        = "CALLER_CONTEXT"
	KeyAuthenticated = "authenticated"
	KeyService       = "service"
)
