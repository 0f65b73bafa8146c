// Package activecard composes the protocol layers into the two roles of a
// session.
//
// A Server is the card: it answers the handshake, takes part in the key
// exchange and then serves association requests and the MPC relay. A Client is
// the mobile device: it opens the session and then drives association and MPC
// jobs. Both run over any transport.Transport.
//
//	mobileLink, cardLink := transport.Pipe()
//	srv, _ := activecard.NewServer(cardLink, serverCfg)
//	cli, _ := activecard.NewClient(mobileLink, clientCfg)
//	go srv.Run(ctx)
//	go cli.Run(ctx)
//	secret, err := cli.Connect(ctx)
package activecard
