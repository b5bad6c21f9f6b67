package requester

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	vcierrors "github.com/jrschumacher/openid4vci/pkg/vci/errors"
	"github.com/jrschumacher/openid4vci/pkg/vci/model"
)

type deferredRequestBody struct {
	TransactionID string `json:"transaction_id"`
}

type wireDeferredResponse struct {
	Credentials []struct {
		Credential string `json:"credential"`
	} `json:"credentials,omitempty"`
	Error      string `json:"error,omitempty"`
	Interval   *int   `json:"interval,omitempty"`
}

// QueryDeferred polls the deferred credential endpoint once for
// transactionID, returning DeferredPending with a retry-after hint when
// the issuer has not finished processing yet.
func (r *Requester) QueryDeferred(ctx context.Context, endpoint string, authz model.AuthorizedRequest, transactionID, format string) (model.DeferredOutcome, error) {
	body, err := json.Marshal(deferredRequestBody{TransactionID: transactionID})
	if err != nil {
		return model.DeferredOutcome{}, vcierrors.Wrap(vcierrors.KindValidation, "marshal deferred request", err)
	}

	httpResp, err := r.send(ctx, endpoint, authz, body)
	if err != nil {
		return model.DeferredOutcome{}, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return model.DeferredOutcome{}, vcierrors.Wrap(vcierrors.KindTransport, "read deferred response", err)
	}

	// issuance_pending is reported with either 202 Accepted (not-yet-issued
	// status) or 400 Bad Request (treated as an OAuth-shaped error),
	// depending on the issuer; both carry the same {"error": "..."} body
	// shape, so the status alone does not discriminate pending from failed
	// (spec.md §8 scenario S4).
	if httpResp.StatusCode != http.StatusOK {
		var wire wireDeferredResponse
		if err := json.Unmarshal(respBody, &wire); err != nil {
			return model.DeferredOutcome{}, vcierrors.Wrap(vcierrors.KindTransport, "malformed deferred error response", err)
		}
		if wire.Error == "issuance_pending" {
			return model.DeferredOutcome{Kind: model.DeferredPending, IntervalSec: wire.Interval}, nil
		}
		return model.DeferredOutcome{Kind: model.DeferredFailed, Description: wire.Error}, nil
	}

	var wire wireDeferredResponse
	if err := json.Unmarshal(respBody, &wire); err != nil {
		return model.DeferredOutcome{}, vcierrors.Wrap(vcierrors.KindTransport, "malformed deferred response", err)
	}

	profile, err := r.Formats.Lookup(format)
	if err != nil {
		return model.DeferredOutcome{}, err
	}
	creds := make([]model.IssuedCredential, 0, len(wire.Credentials))
	for _, c := range wire.Credentials {
		decoded, err := profile.DecodeCredential(c.Credential)
		if err != nil {
			return model.DeferredOutcome{}, err
		}
		creds = append(creds, decoded)
	}
	return model.DeferredOutcome{Kind: model.DeferredIssued, Credentials: creds}, nil
}

// Notify posts a notification event back to the issuer's notification
// endpoint. The issuer's response is not expected to carry a body; any
// status other than 200 or 204 is surfaced as a transport error.
func (r *Requester) Notify(ctx context.Context, endpoint string, authz model.AuthorizedRequest, event model.NotificationEvent) error {
	body, err := json.Marshal(struct {
		NotificationID string `json:"notification_id"`
		Event          string `json:"event"`
		Description    string `json:"event_description,omitempty"`
	}{
		NotificationID: event.NotificationID,
		Event:          string(event.Event),
		Description:    event.Description,
	})
	if err != nil {
		return vcierrors.Wrap(vcierrors.KindValidation, "marshal notification", err)
	}

	httpResp, err := r.send(ctx, endpoint, authz, body)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK && httpResp.StatusCode != http.StatusNoContent {
		respBody, _ := io.ReadAll(httpResp.Body)
		return vcierrors.New(vcierrors.KindTransport, "notification rejected").
			WithContext("status", httpResp.Status).
			WithContext("body", strings.TrimSpace(string(respBody)))
	}
	return nil
}
