package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"os"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/shrinkify/internal/cascade"
	"github.com/jackzampolin/shrinkify/internal/svcctx"
)

// AuditLogEventType is the CloudEvent type of audit log deliveries.
const AuditLogEventType = "google.cloud.audit.log.v1.written"

// EventsEndpoint handles POST /events, the completion trigger.
type EventsEndpoint struct{}

func (e *EventsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/events", e.handler
}

func (e *EventsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Results-table completion trigger
//	@Description	Accepts a CloudEvent (binary or structured mode) carrying an audit log entry. Events that are not for a results table are acknowledged without side effects.
//	@Tags			events
//	@Accept			json
//	@Produce		json
//	@Success		200	{object}	cascade.Result
//	@Failure		400	{object}	ErrorResponse
//	@Failure		500	{object}	cascade.Result
//	@Router			/events [post]
func (e *EventsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	ev, err := cehttp.NewEventFromHTTPRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("not a CloudEvent: %v", err))
		return
	}

	meta := cascade.EventMeta{ID: ev.ID(), Type: ev.Type(), Subject: ev.Subject()}
	res, err := svcctx.HandlerFrom(r.Context()).HandleEvent(r.Context(), meta, ev.Data())
	switch {
	case errors.Is(err, cascade.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		// A non-2xx lets the delivery be retried; the chunk state makes
		// the retry safe.
		if res.Outcome == "" {
			writeErr(w, err)
			return
		}
		writeJSON(w, http.StatusInternalServerError, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (e *EventsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "send <audit-log.json>",
		Short: "Deliver an audit log entry to the completion trigger",
		Long: `Send an audit log entry as a CloudEvent to /events.

Use this to replay a missed completion event. Replays are safe: a chunk that
was already processed is reported as a duplicate.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			client, err := cloudevents.NewClientHTTP()
			if err != nil {
				return fmt.Errorf("failed to create CloudEvents client: %w", err)
			}

			ev := cloudevents.NewEvent()
			ev.SetID(uuid.NewString())
			ev.SetSource("shrinkify/cli")
			ev.SetType(AuditLogEventType)
			if subject != "" {
				ev.SetSubject(subject)
			}
			if err := ev.SetData(cloudevents.ApplicationJSON, data); err != nil {
				return err
			}

			ctx := cloudevents.ContextWithTarget(cmd.Context(), getServerURL()+"/events")
			result := client.Send(ctx, ev)
			if cloudevents.IsUndelivered(result) {
				return fmt.Errorf("failed to deliver event: %w", result)
			}
			var httpResult *cehttp.Result
			if cloudevents.ResultAs(result, &httpResult) {
				fmt.Fprintf(cmd.OutOrStdout(), "Delivered: HTTP %d\n", httpResult.StatusCode)
				if httpResult.StatusCode >= 400 {
					return fmt.Errorf("server rejected event: %w", result)
				}
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Delivered")
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "CloudEvent subject")
	return cmd
}
