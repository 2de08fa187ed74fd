package infra

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"prefab-loader/prefab/domain"
)

// AssetKind é o tipo de recurso auxiliar de um nó.
type AssetKind string

const (
	AssetMaterial AssetKind = "material"
	AssetTexture  AssetKind = "texture"
	AssetMesh     AssetKind = "mesh"
	AssetClip     AssetKind = "clip"
)

// SceneNode é o grafo decodificado de um bundle (o "template").
type SceneNode struct {
	ID       domain.ID    `json:"id"`
	Name     string       `json:"name,omitempty"`
	Assets   []SceneAsset `json:"assets,omitempty"`
	Children []SceneNode  `json:"children,omitempty"`
}

type SceneAsset struct {
	Kind   AssetKind `json:"kind"`
	Name   string    `json:"name"`
	Shared bool      `json:"shared,omitempty"`
}

// DecodeScene lê um bundle JSON. Um documento "null" é rejeitado.
func DecodeScene(r io.Reader) (*SceneNode, error) {
	var node *SceneNode
	if err := json.NewDecoder(r).Decode(&node); err != nil {
		return nil, fmt.Errorf("decode scene: %w", err)
	}
	if node == nil {
		return nil, fmt.Errorf("decode scene: null document")
	}
	if !node.ID.Valid() {
		return nil, fmt.Errorf("decode scene: root node without id")
	}
	return node, nil
}

// SceneInstantiator cria SceneObjects a partir de *SceneNode.
type SceneInstantiator struct {
	live atomic.Int64
}

func (s *SceneInstantiator) Instantiate(obj any, parent domain.ContainerRef) (domain.Instance, error) {
	node, ok := obj.(*SceneNode)
	if !ok || node == nil {
		return nil, fmt.Errorf("instantiate: unexpected object %T", obj)
	}
	return s.build(*node, parent), nil
}

// Live retorna quantos objetos raiz ainda não foram destruídos.
func (s *SceneInstantiator) Live() int64 { return s.live.Load() }

func (s *SceneInstantiator) build(n SceneNode, parent domain.ContainerRef) *SceneObject {
	root := newSceneObject(n, parent)
	root.onDestroy = func() { s.live.Add(-1) }
	s.live.Add(1)
	return root
}

func newSceneObject(n SceneNode, parent domain.ContainerRef) *SceneObject {
	o := &SceneObject{id: n.ID, name: n.Name, parent: parent}
	for _, a := range n.Assets {
		o.assets = append(o.assets, &SceneResource{
			kind:   a.Kind,
			name:   a.Name,
			shared: a.Shared || strings.HasPrefix(a.Name, "default"),
		})
	}
	for _, c := range n.Children {
		o.children = append(o.children, newSceneObject(c, parent))
	}
	return o
}

// SceneObject é a instância viva de um nó.
type SceneObject struct {
	id        domain.ID
	name      string
	parent    domain.ContainerRef
	assets    []*SceneResource
	children  []*SceneObject
	destroyed atomic.Bool
	onDestroy func()
}

func (o *SceneObject) ID() domain.ID { return o.id }
func (o *SceneObject) Name() string { return o.name }
func (o *SceneObject) Parent() domain.ContainerRef { return o.parent }
func (o *SceneObject) Alive() bool { return !o.destroyed.Load() }

func (o *SceneObject) Find(id domain.ID) (domain.Instance, bool) {
	for _, c := range o.children {
		if c.id == id {
			return c, true
		}
		if found, ok := c.Find(id); ok {
			return found, true
		}
	}
	return nil, false
}

// Resources lista os recursos do nó e de todos os descendentes.
func (o *SceneObject) Resources() []domain.Resource {
	var out []domain.Resource
	for _, a := range o.assets {
		out = append(out, a)
	}
	for _, c := range o.children {
		out = append(out, c.Resources()...)
	}
	return out
}

// ChildIDs lista os ids dos descendentes endereçáveis.
func (o *SceneObject) ChildIDs() []domain.ID {
	var out []domain.ID
	for _, c := range o.children {
		out = append(out, c.id)
		out = append(out, c.ChildIDs()...)
	}
	return out
}

func (o *SceneObject) Destroy() {
	if !o.destroyed.CompareAndSwap(false, true) {
		return
	}
	for _, c := range o.children {
		c.Destroy()
	}
	if o.onDestroy != nil {
		o.onDestroy()
	}
}

// SceneResource é um material/textura/mesh/clip carregado com o bundle.
type SceneResource struct {
	kind     AssetKind
	name     string
	shared   bool
	released atomic.Bool
}

func (r *SceneResource) Kind() AssetKind { return r.kind }
func (r *SceneResource) Name() string    { return r.name }
func (r *SceneResource) Shared() bool    { return r.shared }
func (r *SceneResource) Released() bool  { return r.released.Load() }
func (r *SceneResource) Release()        { r.released.Store(true) }
