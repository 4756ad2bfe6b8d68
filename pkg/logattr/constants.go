package logattr

import "log/slog"

func ServiceName(serviceName string) slog.Attr {
    return slog.String("service_name", serviceName)
}

func Component(component string) slog.Attr {
    return slog.String("component", component)
}

func Error(err string) slog.Attr {
    return slog.String("error", err)
}

func CorrelationId(correlationId string) slog.Attr {
    return slog.String("correlation_id", correlationId)
}

func EventId(eventId string) slog.Attr {
    return slog.String("event_id", eventId)
}

func Subject(subject string) slog.Attr {
    return slog.String("subject", subject)
}

func Action(action string) slog.Attr {
    return slog.String("action", action)
}

func EnvelopeId(envelopeId int64) slog.Attr {
    return slog.Int64("envelope_id", envelopeId)
}

func ReturnCode(returnCode int) slog.Attr {
    return slog.Int("return_code", returnCode)
}

func EventsCount(count int) slog.Attr {
    return slog.Int("events_count", count)
}

func PartitionKey(partitionKey string) slog.Attr {
    return slog.String("partition_key", partitionKey)
}

func RowKey(rowKey string) slog.Attr {
    return slog.String("row_key", rowKey)
}

func ConsumerGroup(consumerGroup string) slog.Attr {
    return slog.String("consumer_group", consumerGroup)
}

func Partition(partition string) slog.Attr {
    return slog.String("partition", partition)
}

func SequenceNumber(sequenceNumber int64) slog.Attr {
    return slog.Int64("sequence_number", sequenceNumber)
}

func PersistedSequenceNumber(sequenceNumber int64) slog.Attr {
    return slog.Int64("persisted_sequence_number", sequenceNumber)
}

func Attempts(attempts int) slog.Attr {
    return slog.Int("attempts", attempts)
}

func PoisonAction(action string) slog.Attr {
    return slog.String("poison_action", action)
}

func Subscriber(name string) slog.Attr {
    return slog.String("subscriber", name)
}

func Username(username string) slog.Attr {
    return slog.String("username", username)
}
