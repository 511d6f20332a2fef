// Package deviceclient is a typed client for the Lumen control surface.
//
// Reads are retried with exponential backoff; commands are sent once.
// Every failure is a *DeviceError classified by ClassifyNetworkError or
// by HTTP status, and ShortMessage and Hint turn it into text for the
// operator.
//
//	c := deviceclient.New("http://lumen-12abcd.local")
//	info, err := c.DeviceInfo(ctx)
//	if err != nil {
//	    fmt.Println(deviceclient.ShortMessage(err))
//	    fmt.Println(deviceclient.Hint(err))
//	}
package deviceclient
