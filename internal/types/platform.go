// Package types is the data model of spec.md §3: Platform, Address, Cluster,
// Rollup, RollupMetadata, transactions, OrderCommitment, and Block, plus the
// Key() tuple builders each entity uses against internal/kvstore.
package types

import "fmt"

// Platform is the chain hosting the liveness (membership) contract.
type Platform string

const (
	PlatformEthereum Platform = "ethereum"
	PlatformLocal    Platform = "local"
)

func (p Platform) Valid() bool {
	switch p {
	case PlatformEthereum, PlatformLocal:
		return true
	default:
		return false
	}
}

// ServiceProvider is the family of liveness contracts.
type ServiceProvider string

const ServiceProviderRadius ServiceProvider = "radius"

func (s ServiceProvider) Valid() bool { return s == ServiceProviderRadius }

// ValidationServiceProvider is the family of validation (AVS) contracts.
type ValidationServiceProvider string

const (
	ValidationServiceProviderEigenLayer ValidationServiceProvider = "eigenlayer"
	ValidationServiceProviderSymbiotic  ValidationServiceProvider = "symbiotic"
)

func (v ValidationServiceProvider) Valid() bool {
	switch v {
	case ValidationServiceProviderEigenLayer, ValidationServiceProviderSymbiotic:
		return true
	default:
		return false
	}
}

// RollupType identifies the rollup's execution stack.
type RollupType string

const RollupTypePolygonCDK RollupType = "polygon_cdk"

// EncryptedTxType identifies the encrypted-mempool scheme a rollup uses.
type EncryptedTxType string

const (
	EncryptedTxTypePVDE EncryptedTxType = "pvde"
	EncryptedTxTypeSKDE EncryptedTxType = "skde"
	EncryptedTxTypeNone EncryptedTxType = "none"
)

// OrderCommitmentType selects how an order commitment is constructed.
type OrderCommitmentType string

const (
	OrderCommitmentTypeTransactionHash OrderCommitmentType = "transaction_hash"
	OrderCommitmentTypeSign            OrderCommitmentType = "sign"
)

func (o OrderCommitmentType) Valid() bool {
	switch o {
	case OrderCommitmentTypeTransactionHash, OrderCommitmentTypeSign:
		return true
	default:
		return false
	}
}

// ClusterKeyTriple identifies a liveness backend.
type ClusterKeyTriple struct {
	Platform        Platform
	ServiceProvider ServiceProvider
}

func (c ClusterKeyTriple) String() string {
	return fmt.Sprintf("%s/%s", c.Platform, c.ServiceProvider)
}
