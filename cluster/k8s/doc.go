// Package k8s implements cluster.Store on Kubernetes primitives:
// worker discovery via Pod annotations and leader election via the
// coordination/v1 Lease API. Use it when engine workers run as Pods and
// no external coordination store is available.
package k8s
