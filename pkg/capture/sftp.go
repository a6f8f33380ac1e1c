// pkg/capture/sftp.go

package capture

import (
	"io"
	"net"
	"os"
	"path"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// UploadConfig describes the archive target for finished capture files.
type UploadConfig struct {
	Addr      string // host:port of the SSH endpoint
	User      string
	Password  string
	KeyPath   string // private key file, used when Password is empty
	RemoteDir string
	Bandwidth int64 // bytes per second, 0 for unlimited
}

func (c *UploadConfig) auth() ([]ssh.AuthMethod, error) {
	if c.Password != "" {
		return []ssh.AuthMethod{ssh.Password(c.Password)}, nil
	}
	b, err := os.ReadFile(c.KeyPath)
	if err != nil {
		return nil, errors.Wrap(err, "read private key")
	}
	signer, err := ssh.ParsePrivateKey(b)
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

// Uploader pushes capture files to an SFTP archive.
type Uploader struct {
	conf   *UploadConfig
	client *ssh.Client
	sftp   *sftp.Client
}

// NewUploader dials the archive endpoint.
func NewUploader(conf *UploadConfig) (*Uploader, error) {
	auth, err := conf.auth()
	if err != nil {
		return nil, err
	}
	host, _, err := net.SplitHostPort(conf.Addr)
	if err != nil {
		host = conf.Addr
		conf.Addr = net.JoinHostPort(host, "22")
	}
	client, err := ssh.Dial("tcp", conf.Addr, &ssh.ClientConfig{
		User: conf.User,
		Auth: auth,
		// Capture nodes talk to a site-local archive host.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         time.Second * 10,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", conf.Addr)
	}
	sc, err := sftp.NewClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "sftp")
	}
	return &Uploader{conf: conf, client: client, sftp: sc}, nil
}

// Put uploads one local file, reporting progress in bytes through report
// (which may be nil). The remote file is written under a temporary name and
// renamed once complete.
func (u *Uploader) Put(local string, report func(n int)) error {
	f, err := os.Open(local)
	if err != nil {
		return err
	}
	defer f.Close()

	var src io.Reader = f
	if u.conf.Bandwidth > 0 {
		src = NewLimitedReader(f, u.conf.Bandwidth)
	}
	name := path.Join(u.conf.RemoteDir, path.Base(local))
	tmp := name + ".inflight"
	_ = u.sftp.MkdirAll(u.conf.RemoteDir)
	rf, err := u.sftp.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "create %s", tmp)
	}
	buf := make([]byte, 128<<10)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := rf.Write(buf[:n]); werr != nil {
				_ = rf.Close()
				return errors.Wrapf(werr, "write %s", tmp)
			}
			if report != nil {
				report(n)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			_ = rf.Close()
			return err
		}
	}
	if err = rf.Close(); err != nil {
		return err
	}
	_ = u.sftp.Remove(name)
	return u.sftp.Rename(tmp, name)
}

// Close shuts the SFTP session down.
func (u *Uploader) Close() error {
	_ = u.sftp.Close()
	return u.client.Close()
}
