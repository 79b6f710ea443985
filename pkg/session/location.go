package session

import (
	"fmt"
	"net/url"
	"sync"
)

// Location is the addressable place that carries the document id, like the fragment of a page url. An empty
// fragment means a new document should be created.
type Location interface {
	Fragment() string
	SetFragment(id string)
}

// URLLocation keeps the document id in the fragment of a url such as http://localhost:8080/#<id>.
type URLLocation struct {
	lock sync.Mutex
	u    *url.URL
}

func ParseLocation(raw string) (*URLLocation, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse location: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("location must be an http or https url, got %q", raw)
	}
	return &URLLocation{u: u}, nil
}

func (l *URLLocation) Fragment() string {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.u.Fragment
}

func (l *URLLocation) SetFragment(id string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.u.Fragment = id
}

// Base is the location without its fragment, which is where the relay server lives.
func (l *URLLocation) Base() *url.URL {
	l.lock.Lock()
	defer l.lock.Unlock()
	out := *l.u
	out.Fragment = ""
	out.RawFragment = ""
	return &out
}

func (l *URLLocation) String() string {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.u.String()
}
