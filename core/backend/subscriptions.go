package backend

import (
	"io"
	"net/http"
	"slices"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/tenantkit/core"
	"github.com/relabs-tech/tenantkit/core/apierror"
	"github.com/relabs-tech/tenantkit/core/notify"
)

type subscriptionRequest struct {
	Action core.Action `json:"action"`
}

func (b *Backend) typeSubscriptions(w http.ResponseWriter, r *http.Request) error {
	return b.manageSubscriptions(w, r, false)
}

func (b *Backend) resourceSubscriptions(w http.ResponseWriter, r *http.Request) error {
	return b.manageSubscriptions(w, r, true)
}

// manageSubscriptions lets members manage their interest in notifications. Subscribing to a single
// resource requires that the member can read it.
func (b *Backend) manageSubscriptions(w http.ResponseWriter, r *http.Request, single bool) error {
	rr, err := b.resolve(r)
	if err != nil {
		return err
	}
	if rr.subject.Caller.Anonymous() {
		return apierror.ErrNotLoggedIn
	}
	memberID := rr.subject.MemberID()
	if memberID == nil {
		return apierror.ErrNotAMember
	}

	var targetID *int64
	if single {
		decision, err := rr.authorize(core.ActionGet)
		if err != nil {
			return err
		}
		id, err := resourceID(r)
		if err != nil {
			return err
		}
		if _, err := b.readOne(r, rr, decision.Predicate); err != nil {
			return err
		}
		targetID = &id
	} else if _, err := rr.authorize(core.ActionQuery); err != nil {
		return err
	}

	if r.Method == http.MethodGet {
		list, err := b.subscriptions.List(rr.ctx, rr.app.ID, rr.typ, *memberID)
		if err != nil {
			return writeError(rr.ctx, "Error 4740", "cannot list subscriptions", err)
		}
		if single {
			list = slices.DeleteFunc(list, func(s notify.Subscription) bool {
				return s.ResourceID == nil || *s.ResourceID != *targetID
			})
		}
		writeJSON(w, r, http.StatusOK, list)
		return nil
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return apierror.BadRequest("Cannot read body")
	}
	var request subscriptionRequest
	if err := json.Unmarshal(body, &request); err != nil {
		return apierror.BadRequest("Invalid JSON payload")
	}
	if !slices.Contains(notify.SubscribableActions, request.Action) {
		return apierror.BadRequest("Cannot subscribe to action %q", request.Action)
	}
	ad := rr.rd.Action(request.Action)
	if ad == nil || ad.Hooks == nil || !subscribable(ad.Hooks.Notification, request.Action) {
		return apierror.BadRequest("Action %s of %s is not subscribable", request.Action, rr.typ)
	}

	subscription := notify.Subscription{
		AppID:      rr.app.ID,
		Type:       rr.typ,
		ResourceID: targetID,
		MemberID:   *memberID,
		Action:     request.Action,
	}
	if r.Method == http.MethodPost {
		err = b.subscriptions.Subscribe(rr.ctx, subscription)
	} else {
		err = b.subscriptions.Unsubscribe(rr.ctx, subscription)
	}
	if err != nil {
		return writeError(rr.ctx, "Error 4741", "cannot change subscription", err)
	}
	if r.Method == http.MethodPost {
		writeJSON(w, r, http.StatusCreated, subscription)
		return nil
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}
