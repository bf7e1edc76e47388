package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Network Errors (S001-S019)
	// ============================================

	"S001": {
		Category: CategoryNetwork,
		Message:  "Request did not reach the server",
	},
	"S002": {
		Category: CategoryTimeout,
		Message:  "Request timed out",
		Detail:   "The server did not answer before the request deadline. The change was undone.",
	},
	"S003": {
		Category: CategoryNetwork,
		Message:  "Server error",
	},
	"S004": {
		Category: CategoryNetwork,
		Message:  "Not authenticated",
		Detail:   "The bearer token was rejected by the server.",
	},
	"S005": {
		Category: CategoryNetwork,
		Message:  "Resource not found",
	},

	// ============================================
	// Validation Errors (S020-S039)
	// ============================================

	"S020": {
		Category: CategoryValidation,
		Message:  "Message text is empty",
	},
	"S021": {
		Category: CategoryValidation,
		Message:  "Amount must be positive",
	},
	"S022": {
		Category: CategoryValidation,
		Message:  "Recipient is required",
	},
	"S023": {
		Category: CategoryValidation,
		Message:  "Comment text is empty",
	},
	"S024": {
		Category: CategoryValidation,
		Message:  "Reply parent not found",
		Detail:   "A reply must point at a comment of the same post.",
	},
	"S025": {
		Category: CategoryValidation,
		Message:  "Post content is empty",
	},
	"S026": {
		Category: CategoryValidation,
		Message:  "Reaction kind is empty",
	},
	"S027": {
		Category: CategoryValidation,
		Message:  "Cannot pay yourself",
	},

	// ============================================
	// Business Rule Errors (S040-S059)
	// ============================================

	"S040": {
		Category: CategoryBusiness,
		Message:  "Insufficient balance",
	},
	"S041": {
		Category: CategoryBusiness,
		Message:  "Duplicate friend request",
	},
	"S042": {
		Category: CategoryBusiness,
		Message:  "Request rejected",
	},

	// ============================================
	// Protocol Errors (S060-S079)
	// ============================================

	"S060": {
		Category: CategoryProtocol,
		Message:  "Push connection failed",
	},
	"S061": {
		Category: CategoryProtocol,
		Message:  "Malformed push event",
	},
	"S062": {
		Category: CategoryProtocol,
		Message:  "Malformed response payload",
	},
	"S063": {
		Category: CategoryProtocol,
		Message:  "Push connection closed",
	},

	// ============================================
	// State Errors (S080-S099)
	// ============================================

	"S080": {
		Category: CategoryState,
		Message:  "Unknown mutation handle",
	},
	"S081": {
		Category: CategoryState,
		Message:  "Mutation already settled",
	},
	"S082": {
		Category: CategoryState,
		Message:  "Entity not found",
	},

	// ============================================
	// Config Errors (S120-S139)
	// ============================================

	"S120": {
		Category: CategoryConfig,
		Message:  "Invalid configuration file",
	},
	"S121": {
		Category: CategoryConfig,
		Message:  "API URL is required",
	},
	"S122": {
		Category: CategoryConfig,
		Message:  "Invalid timeout",
	},
	"S123": {
		Category: CategoryConfig,
		Message:  "Invalid page size",
	},

	// ============================================
	// CLI Errors (S140-S159)
	// ============================================

	"S140": {
		Category: CategoryCLI,
		Message:  "Invalid argument",
	},
	"S141": {
		Category: CategoryCLI,
		Message:  "No shotonme.json found",
	},
}

// Lookup returns the template for a code.
func Lookup(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
