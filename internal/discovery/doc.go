// Package discovery advertises and finds wsinspect servers with mDNS.
//
// A server started with advertising enabled registers itself as a
// "_wsinspect._tcp" service. Its TXT records carry the WebSocket path and
// whether TLS is on, so a browser can build a complete URL:
//
//	adv, err := discovery.Advertise(ctx, "bench", 8000, []string{"path=/", "tls=false"})
//	if err != nil {
//	    return err
//	}
//	defer adv.Shutdown()
//
// and elsewhere on the network:
//
//	endpoints, err := discovery.NewScanner().Scan(ctx)
//	for _, ep := range endpoints {
//	    fmt.Println(ep.URL()) // ws://192.168.1.5:8000/
//	}
//
// Multicast must be allowed on the interface; in containers it often is not.
package discovery
