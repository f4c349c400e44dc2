package tracklane

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"
)

// Facade aggregates plugin backends behind one interface. Instantiate
// routes a URI to the backend that understands it: file:// URIs go to
// bundle backends, bare identifiers to registry backends.
type Facade struct {
	cfg      HostConfig
	backends []Backend
	log      *logrus.Entry
}

// NewFacade initializes every backend with cfg. A backend that fails to
// initialize is left out and the failure is logged; the others stay usable.
func NewFacade(cfg HostConfig, backends ...Backend) *Facade {
	f := &Facade{cfg: cfg, log: logrus.WithField("component", "plugins")}
	for _, b := range backends {
		if err := f.Register(b); err != nil {
			f.log.WithError(err).WithField("backend", b.Kind()).Warn("plugin backend disabled")
		}
	}
	return f
}

// Register initializes and adds a backend. Registering a second backend of
// the same kind is an error.
func (f *Facade) Register(b Backend) error {
	if _, ok := f.Backend(b.Kind()); ok {
		return fmt.Errorf("backend %q already registered", b.Kind())
	}
	if err := b.Init(f.cfg); err != nil {
		return fmt.Errorf("init backend %q: %w", b.Kind(), err)
	}
	f.backends = append(f.backends, b)
	return nil
}

func (f *Facade) Config() HostConfig { return f.cfg }

func (f *Facade) Backend(kind BackendKind) (Backend, bool) {
	for _, b := range f.backends {
		if b.Kind() == kind {
			return b, true
		}
	}
	return nil, false
}

func (f *Facade) Backends() []Backend {
	return f.backends
}

// Scan collects the plugins of every backend. Errors of single backends are
// joined; the plugins of the backends that succeeded are still returned.
func (f *Facade) Scan() ([]PluginInfo, error) {
	var all []PluginInfo
	var errs []error
	for _, b := range f.backends {
		infos, err := b.Scan()
		if err != nil {
			errs = append(errs, fmt.Errorf("scan %q: %w", b.Kind(), err))
		}
		all = append(all, infos...)
	}
	return all, errors.Join(errs...)
}

// Instantiate loads the plugin at uri. If kind is not empty, only that
// backend is asked; otherwise every backend whose addressing matches the
// URI is tried in registration order until one knows the plugin.
func (f *Facade) Instantiate(kind BackendKind, uri string) (Instance, error) {
	if kind != "" {
		b, ok := f.Backend(kind)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrBackendNotAvailable, kind)
		}
		return b.Instantiate(uri)
	}
	addressing := AddressRegistry
	if IsBundleURI(uri) {
		addressing = AddressBundle
	}
	var errs []error
	for _, b := range f.backends {
		if b.Addressing() != addressing {
			continue
		}
		inst, err := b.Instantiate(uri)
		if err == nil {
			return inst, nil
		}
		if !errors.Is(err, ErrPluginNotFound) {
			return nil, err
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w for %q", ErrBackendNotAvailable, uri)
	}
	return nil, errors.Join(errs...)
}

// InstantiateDescriptor instantiates the plugin a descriptor refers to and
// applies the descriptor's parameter values. Unknown parameter names are
// logged and skipped.
func (f *Facade) InstantiateDescriptor(d PluginDescriptor) (Instance, error) {
	inst, err := f.Instantiate(d.Backend, d.URI)
	if err != nil {
		return nil, err
	}
	if unknown := ApplyParams(inst, d.Params); len(unknown) > 0 {
		f.log.WithFields(logrus.Fields{"plugin": d.URI, "params": unknown}).Debug("ignoring unknown parameters")
	}
	return inst, nil
}

// IsBundleURI reports whether the URI addresses a plugin in a file.
func IsBundleURI(uri string) bool {
	return strings.HasPrefix(uri, "file://")
}

// ParseBundleURI splits file://<path>#<id> into the path and the id. The id
// is optional; file:///a/b.so gives "/a/b.so" and "".
func ParseBundleURI(uri string) (path, id string, err error) {
	if !IsBundleURI(uri) {
		return "", "", fmt.Errorf("%w: %q is not a file:// uri", ErrInvalidURI, uri)
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	path = u.Path
	if u.Host != "" {
		path = u.Host + path
	}
	if path == "" {
		return "", "", fmt.Errorf("%w: %q has no path", ErrInvalidURI, uri)
	}
	return path, u.Fragment, nil
}

// BundleURI is the inverse of ParseBundleURI.
func BundleURI(path, id string) string {
	u := url.URL{Scheme: "file", Path: path, Fragment: id}
	return u.String()
}
