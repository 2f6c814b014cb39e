package services

import (
	"airnode/models"
)

// Radio is the station-mode interface of the node's wireless chip.
// It is owned by ConnectionManager; nothing else may change its state.
type Radio interface {
	Active() bool
	Activate() error
	Connect(ssid, passphrase string) error
	Disconnect() error
	IsConnected() bool
	Status() models.LinkStatus
	Scan() ([]models.Network, error)
}
