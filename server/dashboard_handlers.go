package server

import (
	"net/http"

	apperrors "github.com/jrsteele09/go-subs-manager/internal/errors"
	"github.com/jrsteele09/go-subs-manager/internal/utils"
	"github.com/rs/zerolog/log"
)

const selectedSubscriptionsField = "selectedSubscriptions"

// DeleteResponse is the body of a completed bulk delete
type DeleteResponse struct {
	Success   bool     `json:"success"`
	Succeeded []string `json:"succeeded"`
	Failed    []string `json:"failed"`
}

// DashboardHandler returns the quota state and the subscription list (GET /dashboard)
func (s *Server) DashboardHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := SessionFromContext(r.Context())

		view, err := s.dashboard.Load(r.Context(), sess.ExternalAccountID, sess.AccessToken)
		if err != nil {
			if apperrors.Is(err, apperrors.ErrInsufficientScope) {
				redirectWithError(w, r, RouteLogin, LoginErrorYouTubePermission)
				return
			}
			log.Ctx(r.Context()).Err(err).Str("identity", sess.ExternalAccountID).Msg("failed to load dashboard")
			writeJSONError(w, http.StatusInternalServerError, "Failed to load dashboard")
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// DeleteSubscriptionsHandler unsubscribes from the selected channels (POST /dashboard/delete)
func (s *Server) DeleteSubscriptionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := SessionFromContext(r.Context())

		if err := r.ParseForm(); err != nil {
			writeJSONError(w, http.StatusBadRequest, "Invalid form data")
			return
		}

		ids := utils.SplitCSV(r.FormValue(selectedSubscriptionsField))
		if len(ids) == 0 {
			writeJSONError(w, http.StatusBadRequest, "No subscriptions selected.")
			return
		}

		result, err := s.dashboard.Delete(r.Context(), sess.ExternalAccountID, sess.AccessToken, ids)
		switch {
		case err == nil:
		case apperrors.Is(err, apperrors.ErrQuotaExceeded):
			writeJSONError(w, http.StatusBadRequest, "You have selected more subscriptions than allowed!")
			return
		case apperrors.Is(err, apperrors.ErrValidation):
			writeJSONError(w, http.StatusBadRequest, "No subscriptions selected.")
			return
		default:
			log.Ctx(r.Context()).Err(err).Str("identity", sess.ExternalAccountID).Msg("bulk delete failed")
			writeJSONError(w, http.StatusInternalServerError, "Failed to delete subscriptions")
			return
		}

		log.Ctx(r.Context()).Info().
			Str("identity", sess.ExternalAccountID).
			Int("succeeded", len(result.Succeeded)).
			Int("failed", len(result.Failed)).
			Msg("subscriptions deleted")

		writeJSON(w, http.StatusOK, DeleteResponse{
			Success:   true,
			Succeeded: result.Succeeded,
			Failed:    result.Failed,
		})
	}
}
