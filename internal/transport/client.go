package transport

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Dial opens an insecure client connection to a spout engine at addr
// (host:port). The caller closes the returned conn.
func Dial(addr string, opts ...grpc.DialOption) (*LagClient, *grpc.ClientConn, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	cc, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return NewLagClient(cc), cc, nil
}
