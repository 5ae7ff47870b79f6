package common

// Metric names shared by client, server and transport. All metrics are registered in the
// default VictoriaMetrics set.
const (
	MetricClientRequestsTotal   = `remoting_client_requests_total`
	MetricClientResponsesTotal  = `remoting_client_responses_total`
	MetricClientTimeoutsTotal   = `remoting_client_timeouts_total`
	MetricClientReconnectsTotal = `remoting_client_reconnects_total`
	MetricClientPushTotal       = `remoting_client_push_messages_total`
	MetricClientRoundTrip       = `remoting_client_request_duration_seconds`

	MetricServerRequestsTotal       = `remoting_server_requests_total`
	MetricServerHandlerFailureTotal = `remoting_server_handler_failures_total`
	MetricServerPushTotal           = `remoting_server_push_messages_total`
	MetricServerHandlerDuration     = `remoting_server_handler_duration_seconds`
	MetricServerConnectionsTotal    = `remoting_server_connections_total`

	MetricTransportFlowControlTotal = `remoting_transport_flow_control_total`
	MetricTransportBytesSentTotal   = `remoting_transport_bytes_sent_total`
	MetricTransportBytesRecvTotal   = `remoting_transport_bytes_received_total`
)
