package tunnel

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

func (p *Proxy) dialHTTP(ctx context.Context, forward *recordingDialer, network, addr string) (*Stream, error) {
	conn, err := forward.DialContext(ctx, network, p.addr)
	if err != nil {
		return nil, err
	}

	// Unblock the handshake when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if p.user != nil {
		pass, _ := p.user.Password()
		credential := base64.StdEncoding.EncodeToString([]byte(p.user.Username() + ":" + pass))
		req.Header.Set("Proxy-Authorization", "Basic "+credential)
	}
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write CONNECT: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read CONNECT response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		conn.Close()
		return nil, fmt.Errorf("proxy refused CONNECT: %s", resp.Status)
	}

	stream := newStream(HTTPConnect, conn, conn)
	if br.Buffered() > 0 {
		stream.reader = br
	}
	return stream, nil
}
