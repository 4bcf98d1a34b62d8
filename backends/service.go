package backends

import (
	"reflect"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/robinmsg/robin/log"
)

var Svc *service

// Svc is a global used by processors to register initializers and
// shutdowners, and to get at the logger.
func init() {
	Svc = &service{}
}

type service struct {
	initializers []ProcessorInitializer
	shutdowners  []ProcessorShutdowner
	sync.Mutex
	mainlog atomic.Value
}

// Log gets the logger that processors should log through.
// Defaults to stderr if none was set with SetMainlog.
func Log() log.Logger {
	if v, ok := Svc.mainlog.Load().(log.Logger); ok {
		return v
	}
	l, _ := log.GetLogger(log.OutputStderr.String(), "info")
	Svc.mainlog.Store(l)
	return l
}

func (s *service) SetMainlog(l log.Logger) {
	s.mainlog.Store(l)
}

// AddInitializer adds a function that implements ProcessorInitializer
// to be called when the backend is initialized
func (s *service) AddInitializer(i ProcessorInitializer) {
	s.Lock()
	defer s.Unlock()
	s.initializers = append(s.initializers, i)
}

// AddShutdowner adds a function that implements ProcessorShutdowner
// to be called when the backend is shut down
func (s *service) AddShutdowner(sh ProcessorShutdowner) {
	s.Lock()
	defer s.Unlock()
	s.shutdowners = append(s.shutdowners, sh)
}

// reset clears the initializers and shutdowners
func (s *service) reset() {
	s.Lock()
	defer s.Unlock()
	s.initializers = s.initializers[:0]
	s.shutdowners = s.shutdowners[:0]
}

// initialize calls the initializers, keeping the first error
func (s *service) initialize(backend BackendConfig) error {
	s.Lock()
	defer s.Unlock()
	var err error
	for i := range s.initializers {
		if e := s.initializers[i].Initialize(backend); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// shutdown calls the shutdowners, keeping the first error
func (s *service) shutdown() error {
	s.Lock()
	defer s.Unlock()
	var err error
	for i := range s.shutdowners {
		if e := s.shutdowners[i].Shutdown(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

type ProcessorInitializer interface {
	Initialize(backendConfig BackendConfig) error
}

type ProcessorShutdowner interface {
	Shutdown() error
}

type InitializeWith func(backendConfig BackendConfig) error

type ShutdownWith func() error

// Satisfy ProcessorInitializer interface, so we can pass an anonymous
// function as an initializer
func (i InitializeWith) Initialize(backendConfig BackendConfig) error {
	// delegate
	return i(backendConfig)
}

// Satisfy ProcessorShutdowner interface, same concept as InitializeWith
func (s ShutdownWith) Shutdown() error {
	// delegate
	return s()
}

// ExtractConfig copies the values from configData into the configType
// struct, matching fields by their json tags. Reflection is used
// instead of a json.Marshal round-trip so that a missing or mistyped
// property produces a useful error message.
func (s *service) ExtractConfig(configData BackendConfig, configType baseConfig) (interface{}, error) {
	sv := reflect.ValueOf(configType).Elem()
	st := reflect.TypeOf(configType).Elem()
	for i := 0; i < sv.NumField(); i++ {
		f := sv.Field(i)
		fieldName := st.Field(i).Tag.Get("json")
		omitempty := false
		if len(fieldName) > 0 {
			split := strings.Split(fieldName, ",")
			fieldName = split[0]
			for _, opt := range split[1:] {
				if opt == "omitempty" {
					omitempty = true
				}
			}
		} else {
			fieldName = st.Field(i).Name
		}
		v, present := configData[fieldName]
		if !present {
			if omitempty {
				continue
			}
			return configType, convertError("property missing: '" + fieldName + "' of type: " + f.Type().Name())
		}
		switch f.Type().Kind() {
		case reflect.Int:
			// JSON numbers arrive as float64
			if intVal, ok := v.(float64); ok {
				f.SetInt(int64(intVal))
			} else {
				return configType, convertError("property invalid: '" + fieldName + "' of expected type: " + f.Type().Name())
			}
		case reflect.String:
			if stringVal, ok := v.(string); ok {
				f.SetString(stringVal)
			} else {
				return configType, convertError("property invalid: '" + fieldName + "' of expected type: " + f.Type().Name())
			}
		case reflect.Bool:
			if boolVal, ok := v.(bool); ok {
				f.SetBool(boolVal)
			} else {
				return configType, convertError("property invalid: '" + fieldName + "' of expected type: " + f.Type().Name())
			}
		}
	}
	return configType, nil
}

type convertError string

func (e convertError) Error() string {
	return string(e)
}
