package operator

import (
    "context"
    "encoding/json"
    "errors"
    "log/slog"
    "net/http"
    "strconv"
    "time"

    "github.com/walletera/cdc-relay/internal/domain/poison"
    "github.com/walletera/cdc-relay/pkg/logattr"
)

const defaultSkippedLimit = 20

// PoisonInspector is the part of the poison Coordinator the API exposes.
type PoisonInspector interface {
    Get(ctx context.Context, msg poison.Message) (*poison.AuditRecord, error)
    Skip(ctx context.Context, msg poison.Message) error
    Skipped(ctx context.Context, msg poison.Message, limit int) ([]poison.AuditRecord, error)
}

// Handler serves the operator API of one inbound stream: inspecting the poison
// record of a partition, forcing it to be skipped and listing what was skipped.
type Handler struct {
    inspector     PoisonInspector
    authenticator *Authenticator
    source        string
    stream        string
    logger        *slog.Logger
    mux           *http.ServeMux
}

// NewHandler builds the API. A nil authenticator disables authentication.
func NewHandler(inspector PoisonInspector, authenticator *Authenticator, source, stream string, logger *slog.Logger) *Handler {
    h := &Handler{
        inspector:     inspector,
        authenticator: authenticator,
        source:        source,
        stream:        stream,
        logger:        logger,
        mux:           http.NewServeMux(),
    }
    h.mux.HandleFunc("GET /healthz", h.healthz)
    h.mux.Handle("GET /poison/{consumerGroup}/{partition}", h.authenticated(h.getPoisonRecord))
    h.mux.Handle("POST /poison/{consumerGroup}/{partition}/skip", h.authenticated(h.skipPoisonMessage))
    h.mux.Handle("GET /poison/{consumerGroup}/{partition}/skipped", h.authenticated(h.listSkipped))
    return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
    h.mux.ServeHTTP(w, r)
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
    w.WriteHeader(http.StatusOK)
}

func (h *Handler) authenticated(next http.HandlerFunc) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if h.authenticator == nil {
            next(w, r)
            return
        }
        subject, err := h.authenticator.Authenticate(r)
        if err != nil {
            h.logger.Warn("unauthorized operator request",
                slog.String("path", r.URL.Path),
                logattr.Error(err.Error()))
            writeError(w, http.StatusUnauthorized, "unauthorized")
            return
        }
        next(w, r.WithContext(withOperator(r.Context(), subject)))
    })
}

func (h *Handler) getPoisonRecord(w http.ResponseWriter, r *http.Request) {
    msg := h.message(r)
    record, err := h.inspector.Get(r.Context(), msg)
    if err != nil {
        h.logger.Error("failed getting poison record",
            logattr.PartitionKey(msg.PartitionKey()),
            logattr.RowKey(msg.RowKey()),
            logattr.Error(err.Error()))
        writeError(w, http.StatusInternalServerError, "unexpected internal error")
        return
    }
    if record == nil {
        writeError(w, http.StatusNotFound, "no poison record for partition")
        return
    }
    writeJSON(w, http.StatusOK, newRecordResponse(*record))
}

func (h *Handler) skipPoisonMessage(w http.ResponseWriter, r *http.Request) {
    msg := h.message(r)
    record, err := h.inspector.Get(r.Context(), msg)
    if err == nil && record == nil {
        writeError(w, http.StatusNotFound, "no poison record for partition")
        return
    }
    if err == nil {
        err = h.inspector.Skip(r.Context(), msg)
    }
    if err != nil {
        h.logger.Error("failed skipping poison message",
            logattr.PartitionKey(msg.PartitionKey()),
            logattr.RowKey(msg.RowKey()),
            logattr.Error(err.Error()))
        writeError(w, http.StatusInternalServerError, "unexpected internal error")
        return
    }

    h.logger.Warn("operator requested poison message skip",
        logattr.PartitionKey(msg.PartitionKey()),
        logattr.RowKey(msg.RowKey()),
        logattr.SequenceNumber(record.SequenceNumber),
        logattr.Username(operatorFromContext(r.Context())))
    w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) listSkipped(w http.ResponseWriter, r *http.Request) {
    limit := defaultSkippedLimit
    if raw := r.URL.Query().Get("limit"); raw != "" {
        parsed, err := strconv.Atoi(raw)
        if err != nil || parsed <= 0 {
            writeError(w, http.StatusBadRequest, "limit must be a positive integer")
            return
        }
        limit = parsed
    }

    msg := h.message(r)
    records, err := h.inspector.Skipped(r.Context(), msg, limit)
    if errors.Is(err, poison.ErrListingUnsupported) {
        writeError(w, http.StatusNotImplemented, err.Error())
        return
    }
    if err != nil {
        h.logger.Error("failed listing skipped messages",
            logattr.PartitionKey(msg.PartitionKey()),
            logattr.RowKey(msg.RowKey()),
            logattr.Error(err.Error()))
        writeError(w, http.StatusInternalServerError, "unexpected internal error")
        return
    }

    items := make([]recordResponse, 0, len(records))
    for _, record := range records {
        items = append(items, newRecordResponse(record))
    }
    writeJSON(w, http.StatusOK, listResponse{Items: items, Total: len(items)})
}

func (h *Handler) message(r *http.Request) poison.Message {
    stream := h.stream
    if override := r.URL.Query().Get("stream"); override != "" {
        stream = override
    }
    return poison.Message{
        Source:        h.source,
        Stream:        stream,
        ConsumerGroup: r.PathValue("consumerGroup"),
        Partition:     r.PathValue("partition"),
    }
}

type recordResponse struct {
    PartitionKey      string     `json:"partitionKey"`
    RowKey            string     `json:"rowKey"`
    SequenceNumber    int64      `json:"sequenceNumber"`
    Offset            string     `json:"offset,omitempty"`
    EnqueuedAt        time.Time  `json:"enqueuedAt"`
    PoisonedAt        time.Time  `json:"poisonedAt"`
    SkippedAt         *time.Time `json:"skippedAt,omitempty"`
    Attempts          int        `json:"attempts"`
    SkipMessage       bool       `json:"skipMessage"`
    Status            string     `json:"status"`
    Reason            string     `json:"reason,omitempty"`
    Exception         string     `json:"exception,omitempty"`
    OriginatingStatus string     `json:"originatingStatus,omitempty"`
    OriginatingReason string     `json:"originatingReason,omitempty"`
}

func newRecordResponse(r poison.AuditRecord) recordResponse {
    return recordResponse{
        PartitionKey:      r.PartitionKey,
        RowKey:            r.RowKey,
        SequenceNumber:    r.SequenceNumber,
        Offset:            r.Offset,
        EnqueuedAt:        r.EnqueuedAt,
        PoisonedAt:        r.PoisonedAt,
        SkippedAt:         r.SkippedAt,
        Attempts:          r.Attempts,
        SkipMessage:       r.SkipMessage,
        Status:            r.Status,
        Reason:            r.Reason,
        Exception:         r.Exception,
        OriginatingStatus: r.OriginatingStatus,
        OriginatingReason: r.OriginatingReason,
    }
}

type listResponse struct {
    Items []recordResponse `json:"items"`
    Total int              `json:"total"`
}

type errorResponse struct {
    ErrorMessage string `json:"errorMessage"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(status)
    _ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
    writeJSON(w, status, errorResponse{ErrorMessage: message})
}

type operatorKey struct{}

func withOperator(ctx context.Context, subject string) context.Context {
    return context.WithValue(ctx, operatorKey{}, subject)
}

func operatorFromContext(ctx context.Context) string {
    subject, _ := ctx.Value(operatorKey{}).(string)
    return subject
}
