package server

// Server bundles the entity-specific HTTP servers. Today there is only the
// auction server; stats and stream ride on it.
type Server struct {
	AuctionServer
}

func NewServer(
	auctionServer AuctionServer,
) Server {
	return Server{
		AuctionServer: auctionServer,
	}
}
