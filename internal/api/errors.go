package api

import "github.com/gin-gonic/gin"

// apiError is the wire shape every failure takes: a short exception kind in
// "error" and a human sentence in "errorMessage". Clients match on the kind.
type apiError struct {
	Kind    string `json:"error"`
	Message string `json:"errorMessage"`
	Status  int    `json:"-"`
}

func (e apiError) abort(c *gin.Context) {
	c.AbortWithStatusJSON(e.Status, e)
}

var (
	errNotFound = apiError{"Not Found",
		"The server has not found anything matching the request URI", 404}
	errMethodNotAllowed = apiError{"Method Not Allowed",
		"The method specified in the request is not allowed for the resource identified by the request URI", 405}

	errAuthHeaderMissing = apiError{"Unauthorized",
		"The request requires user authentication", 403}

	errNullAccessToken = apiError{"IllegalArgumentException",
		"Access Token can not be null or empty.", 400}
	errNullClientToken = apiError{"IllegalArgumentException",
		"Missing clientToken.", 403}
	errInvalidSkin = apiError{"IllegalArgumentException",
		"Provided skin is not valid.", 400}
	errInvalidUUID = apiError{"IllegalArgumentException",
		"Invalid UUID", 400}
	errInvalidToken = apiError{"ForbiddenOperationException",
		"Invalid token", 403}
	// A bearer that decodes but matches no stored session answers with a
	// trailing period, unlike one that never decoded.
	errInvalidTokenGone = apiError{"ForbiddenOperationException",
		"Invalid token.", 403}
	errInvalidTimestamp = apiError{"IllegalArgumentException",
		"Invalid timestamp.", 400}
	errInvalidCredentials = apiError{"ForbiddenOperationException",
		"Invalid credentials. Invalid username or password.", 403}
	errCredentialsRateLimit = apiError{"TooManyRequestsException",
		"Invalid credentials. Invalid username or password.", 429}
	errInvalidImage = apiError{"IllegalArgumentException",
		"Provided image is illegal or invalid.", 400}

	errOverProfileLimit = apiError{"IllegalArgumentException",
		"Not more than 10 profile name per call is allowed.", 400}
	errProfileAssigned = apiError{"IllegalArgumentException",
		"Access token already has a profile assigned.", 400}

	errMissingSkin = apiError{"IllegalArgumentException",
		"Model or skin URL missing.", 400}
	errNullMessage = apiError{"IllegalArgumentException",
		"message is marked non-null but is null", 400}
)

// badJSON mirrors the kind Jackson-based clients expect when a body does not
// parse.
func badJSON(err error) apiError {
	return apiError{"JsonEOFException", err.Error(), 400}
}
