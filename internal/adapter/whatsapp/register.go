package whatsapp

import "github.com/expertloop/expertloop/internal/port/channel"

func init() {
	channel.Register(providerName, func(config map[string]string) (channel.Adapter, error) {
		return NewAdapter(config)
	})
}
