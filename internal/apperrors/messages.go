package apperrors

// User-facing messages.
const (
	MsgInvalidCredentials = "Invalid email or password"
	MsgSessionExpired     = "Your session has expired. Please log in again."
	MsgUnauthorized       = "You are not authorized to access this resource"

	MsgRideNotFound      = "Ride not found"
	MsgCannotCancel      = "Cannot cancel ride at this stage"
	MsgLocationRequired  = "Please select both pickup and drop-off locations"
	MsgAlreadyRated      = "You have already rated this ride"
	MsgRatingUnavailable = "Rating is available once the ride is completed"

	MsgPaymentFailed      = "Payment failed. Please try again."
	MsgPaymentUnavailable = "Payments are not available right now"
	MsgPaymentNotAllowed  = "This ride cannot be paid at this stage"

	MsgMapsUnavailable = "Location search is not available right now"
	MsgGeocodingFailed = "Unable to find location coordinates"

	MsgNetwork = "Network error. Please check your connection."
	MsgServer  = "Server error. Please try again later."
	MsgUnknown = "An unexpected error occurred"
)
