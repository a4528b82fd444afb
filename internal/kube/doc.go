// Package kube is the cluster client used by deploy stages. It applies
// multi-document manifests with Server-Side Apply through the dynamic client
// and reports Deployment rollout and pod status through the typed clientset.
package kube
