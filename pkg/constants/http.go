package constants

// HTTP surface constants shared by handlers and middleware
const (
	HeaderAuthorization = "Authorization"

	// ContextKeyUser is the gin context key the auth middleware stores the
	// session under
	ContextKeyUser = "user"

	// Response envelope fields
	ResponseError = "error"
	FieldMessage  = "message"
)
