package oscsim

// Contains the client updater, which publishes JSON-encoded messages giving
// the latest server state on the status port.

import (
	"encoding/json"
	"fmt"

	"github.com/davecgh/go-spew/spew"
	zmq "github.com/pebbe/zmq4"
	"github.com/spf13/viper"
)

// ClientUpdate carries a message to be published on the status port. The tag
// names the event class: STATUS, CHANNEL, or FRAME.
type ClientUpdate struct {
	tag   string
	state interface{}
}

// RunClientUpdater forwards any message from its input channel to the ZMQ
// publisher socket. Clients subscribe by tag to receive channel-changed and
// frame-published events plus periodic status. Terminates when abort closes.
func RunClientUpdater(messages <-chan ClientUpdate, portstatus int, abort <-chan struct{}) error {
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return err
	}
	defer pubSocket.Close()
	if err = pubSocket.Bind(fmt.Sprintf("tcp://%s:%d", zmqBindHost(), portstatus)); err != nil {
		return err
	}

	for {
		select {
		case <-abort:
			return nil
		case update := <-messages:
			message, err := json.Marshal(update.state)
			if err != nil {
				ProblemLogger.Printf("could not encode %s update: %v", update.tag, err)
				continue
			}
			if viper.GetBool("Verbose") {
				UpdateLogger.Printf("update %s:\n%s", update.tag, spew.Sdump(update.state))
			}
			if _, err := pubSocket.SendMessage(update.tag, message); err != nil {
				ProblemLogger.Printf("could not publish %s update: %v", update.tag, err)
			}
		}
	}
}
