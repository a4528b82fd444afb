package kube

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/yaml"
)

// ObjectRef identifies an applied object.
type ObjectRef struct {
	APIVersion string `json:"apiVersion"`
	Kind       string `json:"kind"`
	Namespace  string `json:"namespace,omitempty"`
	Name       string `json:"name"`
}

func (r ObjectRef) String() string {
	if r.Namespace == "" {
		return r.Kind + "/" + r.Name
	}
	return r.Kind + "/" + r.Namespace + "/" + r.Name
}

// Deployments returns the names of the Deployments in refs that live in
// namespace.
func Deployments(refs []ObjectRef, namespace string) []string {
	var names []string
	for _, r := range refs {
		if r.Kind == "Deployment" && r.Namespace == namespace {
			names = append(names, r.Name)
		}
	}
	return names
}

// ApplyManifests applies every document in manifests in order and stops at
// the first failure. Empty documents are skipped.
func (c *client) ApplyManifests(ctx context.Context, manifests []byte, namespace string) ([]ObjectRef, error) {
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}
	decoder := yaml.NewYAMLOrJSONDecoder(bytes.NewReader(manifests), 4096)

	var applied []ObjectRef
	for doc := 0; ; doc++ {
		var obj unstructured.Unstructured
		if err := decoder.Decode(&obj); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return applied, fmt.Errorf("failed to decode manifest document %d: %w", doc, err)
		}
		if len(obj.Object) == 0 {
			continue
		}

		ref, err := c.applyObject(ctx, &obj, namespace)
		if err != nil {
			return applied, fmt.Errorf("failed to apply %s %s: %w", obj.GetKind(), obj.GetName(), err)
		}
		applied = append(applied, ref)
	}

	if len(applied) == 0 {
		return nil, errors.New("manifest contains no objects")
	}
	return applied, nil
}

func (c *client) applyObject(ctx context.Context, obj *unstructured.Unstructured, namespace string) (ObjectRef, error) {
	gvk := obj.GroupVersionKind()
	if gvk.Kind == "" {
		return ObjectRef{}, errors.New("object has no kind set")
	}
	if obj.GetName() == "" {
		return ObjectRef{}, errors.New("object has no name set")
	}

	mapping, err := c.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
	if err != nil {
		return ObjectRef{}, fmt.Errorf("failed to get REST mapping for %v: %w", gvk, err)
	}

	ref := ObjectRef{APIVersion: obj.GetAPIVersion(), Kind: gvk.Kind, Name: obj.GetName()}
	if mapping.Scope.Name() == meta.RESTScopeNameNamespace {
		if obj.GetNamespace() == "" {
			obj.SetNamespace(namespace)
		}
		ref.Namespace = obj.GetNamespace()
	}

	data, err := obj.MarshalJSON()
	if err != nil {
		return ObjectRef{}, fmt.Errorf("failed to marshal object to JSON: %w", err)
	}

	force := true
	opts := metav1.PatchOptions{FieldManager: FieldManager, Force: &force}
	resource := c.dynamic.Resource(mapping.Resource)
	if ref.Namespace != "" {
		_, err = resource.Namespace(ref.Namespace).Patch(ctx, ref.Name, types.ApplyPatchType, data, opts)
	} else {
		_, err = resource.Patch(ctx, ref.Name, types.ApplyPatchType, data, opts)
	}
	if err != nil {
		return ObjectRef{}, fmt.Errorf("server-side apply failed: %w", err)
	}
	return ref, nil
}
