package auth

import (
	"net/http"
)

// StatusHandler reports the identity the bearer token resolved to.
func StatusHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r)
	if err != nil {
		RespondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	JSON(w, http.StatusOK, struct {
		UserID        string `json:"user_id"`
		Authenticated bool   `json:"authenticated"`
	}{
		UserID:        userID,
		Authenticated: true,
	})
}
