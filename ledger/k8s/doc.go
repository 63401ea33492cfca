// Package k8s provides a Kubernetes-native dominion.Ledger implementation.
//
// Each server's heartbeat record is a coordination/v1 Lease object:
// HolderIdentity carries the server ID, RenewTime carries the last ping
// and AcquireTime carries the creation stamp. Lease names are derived
// from the server ID, so the API server's name uniqueness stands in for
// the one-record-per-server constraint.
//
// Example:
//
//	client := kubernetes.NewForConfigOrDie(rest.InClusterConfig())
//	ledger := k8s.New(client, "my-namespace")
//	// Use ledger as a dominion.Ledger
package k8s
