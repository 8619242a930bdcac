package http

import (
	"net/http"

	applog "piggybank/internal/log"
	"piggybank/internal/session"
)

const (
	msgDepositAdded  = "Deposit added"
	msgDepositFailed = "Failed to add deposit. Please try again."
)

func (s *Server) handleCreateDeposit(w http.ResponseWriter, r *http.Request) {
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
	form := depositFormFrom(p)

	d, err := s.deps.Savings.CreateDeposit(ctx, sess, form)
	if ve, ok := validationErrors(err); ok {
		goals, gerr := s.deps.Savings.ListGoals(ctx, sess)
		s.render(w, r, http.StatusUnprocessableEntity, "deposit_form", depositFormView{
			Goals:      goals,
			GoalsError: gerr != nil,
			GoalID:     form.GoalID,
			Amount:     form.Amount,
			Errors:     ve.Fields,
		}, nil)
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err, msgDepositFailed)
		return
	}

	s.logger.DebugContext(ctx, "Deposit added via form",
		applog.FieldDepositID, d.ID,
		applog.FieldGoalID, d.GoalID,
		applog.FieldAmountCents, d.Amount.Cents)

	goals, gerr := s.deps.Savings.ListGoals(ctx, sess)
	s.render(w, r, http.StatusOK, "deposit_form", depositFormView{Goals: goals, GoalsError: gerr != nil}, NewHTMXResponse().
		TriggerGoalsChanged().
		TriggerDepositsChanged().
		TriggerFormReset().
		TriggerSuccessNotification(msgDepositAdded))
}
