package mqtt

import (
	"encoding/json"
	"time"
)

// Values of StatusMessage.Status.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

const (
	reasonShutdown = "graceful_shutdown"
	reasonLost     = "unexpected_disconnect"
)

// StatusMessage is the retained payload on {prefix}/system/status. The
// broker publishes the offline variant itself when the connection drops
// without a clean Close.
type StatusMessage struct {
	Status    string    `json:"status"`
	ClientID  string    `json:"client_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func statusPayload(clientID, status, reason string) []byte {
	// Marshal cannot fail for this struct.
	b, _ := json.Marshal(StatusMessage{
		Status:    status,
		ClientID:  clientID,
		Reason:    reason,
		Timestamp: time.Now().UTC().Truncate(time.Second),
	})
	return b
}

// announce publishes a retained status message for this client.
func (c *Client) announce(status, reason string) error {
	token := c.conn.Publish(c.topics.SystemStatus(), c.QoS(), true, statusPayload(c.cfg.Broker.ClientID, status, reason))
	return await(token, defaultPublishTimeout, ErrPublishFailed)
}
