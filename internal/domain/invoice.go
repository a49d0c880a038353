package domain

// BoostMessageInvoice ties a pending payment to the chat message it unlocks.
// It is keyed by the payment processor's invoice id.
type BoostMessageInvoice struct {
	ID      string `json:"id"`
	Message string `json:"message"`
	From    string `json:"from"`
	Room    string `json:"room"`
}

// EntityID implements repository.Entity.
func (b BoostMessageInvoice) EntityID() string { return b.ID }
