package httpapi

import (
	"agentnet/internal/config"
	"agentnet/internal/mediastore"
	"agentnet/internal/oauth1"
	"agentnet/internal/pending"
	"agentnet/internal/store"
	"agentnet/internal/twitter"
)

type Deps struct {
	Store   store.Store
	Pending *pending.Store
	Twitter *twitter.Client
	Media   mediastore.Store // optional; nil disables the share archive

	Pepper        string
	PublicBaseURL string
	EncryptionKey string

	TwitterConsumer oauth1.Credentials // consumer key/secret only
	Rewards         config.Rewards
}
