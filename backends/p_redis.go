package backends

import (
	"fmt"

	"github.com/gomodule/redigo/redis"

	"github.com/robinmsg/robin/cip"
)

func init() {
	// ----------------------------------------------------------------------------------
	// Processor Name: redis
	// ----------------------------------------------------------------------------------
	// Description   : Keep a copy of each cip in redis with an expiry
	// ----------------------------------------------------------------------------------
	// Config Options: redis_interface string - redis host:port
	//               : redis_expire_seconds int - TTL of each key
	// --------------:-------------------------------------------------------------------
	// Input         : c.TS, c.Author, c.Text
	// ----------------------------------------------------------------------------------
	// Output        : sets key cip:<ts>:<author> to the cip text
	// ----------------------------------------------------------------------------------
	processors["redis"] = func() Decorator {
		return Redis()
	}
}

type redisConfig struct {
	RedisExpireSeconds int    `json:"redis_expire_seconds"`
	RedisInterface     string `json:"redis_interface"`
}

type redisClient struct {
	isConnected bool
	conn        redis.Conn
}

// connects to the redis server if not already connected
func (c *redisClient) redisConnection(redisInterface string) (err error) {
	if !c.isConnected {
		c.conn, err = redis.Dial("tcp", redisInterface)
		if err != nil {
			// handle error
			return err
		}
		c.isConnected = true
	}
	return nil
}

// The redis decorator stores the cip in redis
func Redis() Decorator {
	var config *redisConfig
	client := &redisClient{}

	Svc.AddInitializer(InitializeWith(func(backendConfig BackendConfig) error {
		configType := baseConfig(&redisConfig{})
		bcfg, err := Svc.ExtractConfig(backendConfig, configType)
		if err != nil {
			return err
		}
		config = bcfg.(*redisConfig)
		return nil
	}))

	Svc.AddShutdowner(ShutdownWith(func() error {
		if client.isConnected {
			client.isConnected = false
			return client.conn.Close()
		}
		return nil
	}))

	return func(p Processor) Processor {
		return ProcessorFunc(func(c *cip.Cip) (Result, error) {
			redisErr := client.redisConnection(config.RedisInterface)
			if redisErr == nil {
				key := fmt.Sprintf("cip:%d:%s", c.TS, c.Author)
				_, doErr := client.conn.Do("SETEX", key, config.RedisExpireSeconds, c.Text)
				if doErr != nil {
					redisErr = doErr
				}
			}
			if redisErr != nil {
				Log().WithError(redisErr).Warn("error while talking to redis")
				// drop the connection so the next cip re-dials
				client.isConnected = false
				return NewResult("-1 redis: " + redisErr.Error()), redisErr
			}
			return p.Process(c)
		})
	}
}
