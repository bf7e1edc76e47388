// Package config provides configuration for the Shot On Me client.
//
// The configuration is stored in shotonme.json (or shotonme.yaml) in the
// working directory. Every field has a default, so the file is optional.
// Values from a .env file and SHOTONME_* environment variables override it.
//
// # Configuration File Structure
//
//	{
//	  "api": {
//	    "url": "https://api.shotonme.app",
//	    "timeout": "15s",
//	    "breakerFailures": 5
//	  },
//	  "push": {
//	    "url": "wss://api.shotonme.app/ws",
//	    "reconnectDelay": "3s"
//	  },
//	  "sync": {
//	    "bufferTTL": "30s",
//	    "maxBuffered": 16
//	  },
//	  "auth": {
//	    "viewer": "u_123"
//	  },
//	  "prefs": {
//	    "dir": ".shotonme/prefs"
//	  }
//	}
//
// The bearer token is read from SHOTONME_TOKEN and is never saved.
//
// # Usage
//
//	cfg, err := config.Resolve(".")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("API:", cfg.API.URL)
package config
