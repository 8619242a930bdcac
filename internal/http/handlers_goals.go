package http

import (
	"net/http"

	applog "piggybank/internal/log"
	"piggybank/internal/session"
)

const (
	msgGoalCreated      = "Goal created"
	msgGoalCreateFailed = "Failed to create savings goal. Please try again."
	msgGoalUpdated      = "Goal updated"
	msgGoalUpdateFailed = "Failed to update goal. Please try again."
	msgGoalDeleted      = "Goal deleted"
	msgGoalDeleteFailed = "Failed to delete goal. Please try again."
	msgGoalFetchFailed  = "Failed to fetch goal details."
)

// handleCreateGoal answers with a fresh form on success and with the
// submitted values plus inline messages on a validation failure. Any other
// failure leaves the client's form untouched.
func (s *Server) handleCreateGoal(w http.ResponseWriter, r *http.Request) {
	if resp := RequirePOST(r); resp != nil {
		resp.Write(w)
		return
	}
	p, resp := ParseBodyOrFail(r)
	if resp != nil {
		resp.Write(w)
		return
	}
	ctx := r.Context()
	sess := session.FromContext(ctx)
	form := goalFormFrom(p)

	g, err := s.deps.Savings.CreateGoal(ctx, sess, form)
	if ve, ok := validationErrors(err); ok {
		s.render(w, r, http.StatusUnprocessableEntity, "goal_form", goalFormView{
			Title:        form.Title,
			TargetAmount: form.TargetAmount,
			Errors:       ve.Fields,
		}, nil)
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err, msgGoalCreateFailed)
		return
	}

	s.logger.DebugContext(ctx, "Goal created via form", applog.FieldGoalID, g.ID, applog.FieldUserID, sess.UserID())
	s.render(w, r, http.StatusOK, "goal_form", goalFormView{}, NewHTMXResponse().
		TriggerGoalsChanged().
		TriggerDepositsChanged().
		TriggerFormReset().
		TriggerSuccessNotification(msgGoalCreated))
}

// handleEditGoal fetches exactly one goal and opens the edit dialog with it.
func (s *Server) handleEditGoal(w http.ResponseWriter, r *http.Request) {
	sess := session.FromContext(r.Context())
	g, err := s.deps.Savings.GetGoal(r.Context(), sess, r.PathValue("id"))
	if err != nil {
		s.logger.WarnContext(r.Context(), "Failed to fetch goal for editing",
			applog.FieldGoalID, r.PathValue("id"),
			applog.FieldError, err)
		NewHTMXResponse().
			Status(errorStatus(err)).
			TriggerDialogClose().
			TriggerErrorNotification(msgGoalFetchFailed).
			Write(w)
		return
	}
	s.render(w, r, http.StatusOK, "goal_edit", goalFormFromGoal(g), nil)
}

// handleUpdateGoal keeps the dialog open on any failure; the client only
// closes it on dialog:close.
func (s *Server) handleUpdateGoal(w http.ResponseWriter, r *http.Request) {
	if resp := RequireMethod(r, http.MethodPost, http.MethodPut); resp != nil {
		resp.Write(w)
		return
	}
	p, resp := ParseBodyOrFail(r)
	if resp != nil {
		resp.Write(w)
		return
	}
	ctx := r.Context()
	sess := session.FromContext(ctx)
	id := r.PathValue("id")
	form := goalFormFrom(p)

	_, err := s.deps.Savings.UpdateGoal(ctx, sess, id, form)
	if ve, ok := validationErrors(err); ok {
		s.render(w, r, http.StatusUnprocessableEntity, "goal_edit", goalFormView{
			ID:           id,
			Title:        form.Title,
			TargetAmount: form.TargetAmount,
			Errors:       ve.Fields,
		}, nil)
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err, msgGoalUpdateFailed)
		return
	}

	NewHTMXResponse().
		TriggerGoalsChanged().
		TriggerDialogClose().
		TriggerSuccessNotification(msgGoalUpdated).
		Write(w)
}

// handleDeleteGoal answers with an empty body so the card's outerHTML swap
// removes it.
func (s *Server) handleDeleteGoal(w http.ResponseWriter, r *http.Request) {
	if resp := RequireMethod(r, http.MethodDelete, http.MethodPost); resp != nil {
		resp.Write(w)
		return
	}
	ctx := r.Context()
	if err := s.deps.Savings.DeleteGoal(ctx, session.FromContext(ctx), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err, msgGoalDeleteFailed)
		return
	}
	NewHTMXResponse().
		TriggerGoalsChanged().
		TriggerDepositsChanged().
		TriggerSuccessNotification(msgGoalDeleted).
		Write(w)
}
