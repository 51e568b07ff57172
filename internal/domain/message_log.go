package domain

// Direction tags a message-log record with how the frame travelled through
// the proxy.
type Direction string

const (
	// DirectionUpstream is a frame received from the charger, bound for the CSMS.
	DirectionUpstream Direction = "UPSTREAM"
	// DirectionDownstream is a frame received from the CSMS, bound for the charger.
	DirectionDownstream Direction = "DOWNSTREAM"
	// DirectionInjectionRequest is an operator-initiated Call sent to the charger.
	DirectionInjectionRequest Direction = "INJECTION_REQUEST"
	// DirectionInjectionResponse is the charger's reply to an injected Call,
	// intercepted and never forwarded to the CSMS.
	DirectionInjectionResponse Direction = "INJECTION_RESPONSE"
	// DirectionProxyResponse is a response the proxy synthesized itself while
	// the CSMS was unavailable.
	DirectionProxyResponse Direction = "PROXY_RESPONSE"
)

// MessageLog is one recorded OCPP frame. Payload holds the full frame
// re-encoded to JSON, or the raw text when the frame could not be decoded.
type MessageLog struct {
	ID            uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	ChargePointID string    `json:"charge_point_id" gorm:"index"`
	Direction     Direction `json:"direction"`
	Payload       string    `json:"payload"`
	Timestamp     int64     `json:"timestamp"` // unix seconds
}

func (MessageLog) TableName() string {
	return "message_log"
}
