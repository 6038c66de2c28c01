package classfile

import (
	"fmt"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/speakeasy-api/jvmeval"
)

// ClassPool is a set of parsed classes keyed by internal name. It answers
// superclass queries for reference joins and resolves member references
// for summaries. It is safe for concurrent use.
type ClassPool struct {
	mu      sync.RWMutex
	classes map[string]*ClassFile

	// handles holds the declarations some method handle constant refers
	// to. Computed on first use, reset by Add.
	handles mapset.Set[jvmeval.MemberRef]
}

// NewClassPool returns an empty pool.
func NewClassPool() *ClassPool {
	return &ClassPool{classes: make(map[string]*ClassFile)}
}

// Add registers cf. Adding a second class with the same name is an error.
func (p *ClassPool) Add(cf *ClassFile) error {
	name := cf.Name()
	if name == "" {
		return fmt.Errorf("class has no resolvable name")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, dup := p.classes[name]; dup {
		return fmt.Errorf("duplicate class %s", name)
	}
	p.classes[name] = cf
	p.handles = nil
	return nil
}

// Class returns the class named name.
func (p *ClassPool) Class(name string) (*ClassFile, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	cf, ok := p.classes[name]
	return cf, ok
}

// Len returns the number of classes.
func (p *ClassPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.classes)
}

// Names returns the class names in sorted order.
func (p *ClassPool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, 0, len(p.classes))
	for name := range p.classes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SuperClass returns the direct superclass of name. java/lang/Object is
// known even when it is not in the pool.
func (p *ClassPool) SuperClass(name string) (string, bool) {
	if name == "java/lang/Object" {
		return "", true
	}
	cf, ok := p.Class(name)
	if !ok {
		return "", false
	}
	super := cf.SuperName()
	if super == "" {
		// Only Object may omit its superclass.
		return "", false
	}
	return super, true
}

// IsSubclass reports whether sub equals super or extends it, following
// superclass links inside the pool.
func (p *ClassPool) IsSubclass(sub, super string) bool {
	seen := make(map[string]bool)
	for name := sub; !seen[name]; {
		if name == super {
			return true
		}
		seen[name] = true
		next, ok := p.SuperClass(name)
		if !ok || next == "" {
			return false
		}
		name = next
	}
	return false
}

// ResolveMethod resolves ref the way the JVM does: the named class and its
// superclasses first, then their superinterfaces. The declaration is exact
// when it cannot be overridden and no method handle refers to it.
func (p *ClassPool) ResolveMethod(ref jvmeval.MemberRef) (decl jvmeval.MemberRef, exact, ok bool) {
	p.mu.RLock()
	owner, mi := p.findMethodLocked(ref.Class, ref.Name, ref.Descriptor)
	p.mu.RUnlock()
	if mi == nil {
		return ref, false, false
	}
	decl = jvmeval.MemberRef{Class: owner.Name(), Name: mi.Name, Descriptor: mi.Descriptor}
	return decl, nonVirtual(owner, mi) && !p.handleTargets().Contains(decl), true
}

func nonVirtual(owner *ClassFile, mi *MethodInfo) bool {
	switch {
	case mi.AccessFlags&(jvmeval.AccStatic|jvmeval.AccPrivate|jvmeval.AccFinal) != 0:
		return true
	case mi.Name == "<init>" || mi.Name == "<clinit>":
		return true
	}
	return owner.AccessFlags&jvmeval.AccFinal != 0
}

func (p *ClassPool) findMethodLocked(class, name, desc string) (*ClassFile, *MethodInfo) {
	var chain []*ClassFile
	seen := make(map[string]bool)
	for c := class; c != "" && !seen[c]; {
		seen[c] = true
		cf, ok := p.classes[c]
		if !ok {
			break
		}
		if mi := cf.FindMethod(name, desc); mi != nil {
			return cf, mi
		}
		chain = append(chain, cf)
		c = cf.SuperName()
	}
	for _, cf := range chain {
		if owner, mi := p.findInInterfacesLocked(cf, name, desc, seen); mi != nil {
			return owner, mi
		}
	}
	return nil, nil
}

// findInInterfacesLocked searches the superinterfaces of cf depth first.
func (p *ClassPool) findInInterfacesLocked(cf *ClassFile, name, desc string, seen map[string]bool) (*ClassFile, *MethodInfo) {
	for _, iface := range cf.InterfaceNames() {
		if seen[iface] {
			continue
		}
		seen[iface] = true
		i, ok := p.classes[iface]
		if !ok {
			continue
		}
		if mi := i.FindMethod(name, desc); mi != nil {
			return i, mi
		}
		if owner, mi := p.findInInterfacesLocked(i, name, desc, seen); mi != nil {
			return owner, mi
		}
	}
	return nil, nil
}

func (p *ClassPool) handleTargets() mapset.Set[jvmeval.MemberRef] {
	p.mu.RLock()
	h := p.handles
	p.mu.RUnlock()
	if h != nil {
		return h
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.handles != nil {
		return p.handles
	}
	h = mapset.NewThreadUnsafeSet[jvmeval.MemberRef]()
	for _, cf := range p.classes {
		for _, e := range cf.Pool {
			mh, ok := e.(*MethodHandle)
			if !ok {
				continue
			}
			ref, err := cf.Pool.MemberRef(mh.ReferenceIndex)
			if err != nil {
				continue
			}
			if owner, mi := p.findMethodLocked(ref.Class, ref.Name, ref.Descriptor); mi != nil {
				ref = jvmeval.MemberRef{Class: owner.Name(), Name: mi.Name, Descriptor: mi.Descriptor}
			}
			h.Add(ref)
		}
	}
	p.handles = h
	return h
}

// ResolveField resolves ref the way the JVM does: the named class, then
// its superinterfaces, then its superclass. initial is the ConstantValue
// of a static field.
func (p *ClassPool) ResolveField(ref jvmeval.MemberRef) (decl jvmeval.MemberRef, initial *jvmeval.Constant, ok bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	owner, fi := p.findFieldLocked(ref.Class, ref.Name, ref.Descriptor, make(map[string]bool))
	if fi == nil {
		return ref, nil, false
	}
	decl = jvmeval.MemberRef{Class: owner.Name(), Name: fi.Name, Descriptor: fi.Descriptor}
	if fi.AccessFlags&jvmeval.AccStatic != 0 {
		if c, ok := owner.ConstantValue(fi); ok {
			initial = &c
		}
	}
	return decl, initial, true
}

func (p *ClassPool) findFieldLocked(class, name, desc string, seen map[string]bool) (*ClassFile, *FieldInfo) {
	if class == "" || seen[class] {
		return nil, nil
	}
	seen[class] = true
	cf, ok := p.classes[class]
	if !ok {
		return nil, nil
	}
	for i := range cf.Fields {
		if f := &cf.Fields[i]; f.Name == name && f.Descriptor == desc {
			return cf, f
		}
	}
	for _, iface := range cf.InterfaceNames() {
		if owner, f := p.findFieldLocked(iface, name, desc, seen); f != nil {
			return owner, f
		}
	}
	return p.findFieldLocked(cf.SuperName(), name, desc, seen)
}
