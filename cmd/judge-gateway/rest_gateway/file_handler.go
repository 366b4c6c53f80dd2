package restgateway

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"path"

	"github.com/criyle/judge-gateway/filestore"
	"github.com/gin-gonic/gin"
)

type fileURI struct {
	FileID string `uri:"fid"`
}

type fileHandle struct {
	fs filestore.FileStore
}

// NewFileHandle creates the file management handle, it is expected behind token auth
func NewFileHandle(fs filestore.FileStore) Register {
	return &fileHandle{
		fs: fs,
	}
}

func (f *fileHandle) Register(r *gin.Engine) {
	r.GET("/file", f.fileGet)
	r.POST("/file", f.filePost)
	r.DELETE("/file/:fid", f.fileIDDelete)
}

func (f *fileHandle) fileGet(c *gin.Context) {
	ids := f.fs.List()
	c.JSON(http.StatusOK, ids)
}

func (f *fileHandle) filePost(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	fi, err := fh.Open()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	defer fi.Close()

	id, err := f.fs.Add(fh.Filename, fi)
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, id)
}

func (f *fileHandle) fileIDDelete(c *gin.Context) {
	var uri fileURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.AbortWithError(http.StatusBadRequest, err)
		return
	}

	ok := f.fs.Remove(uri.FileID)
	if !ok {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	c.Status(http.StatusOK)
}

type downloadHandle struct {
	fs     filestore.FileStore
	signer *filestore.Signer
}

// NewDownloadHandle creates the handle serving signed download urls to workers
func NewDownloadHandle(fs filestore.FileStore, signer *filestore.Signer) Register {
	return &downloadHandle{
		fs:     fs,
		signer: signer,
	}
}

func (d *downloadHandle) Register(r *gin.Engine) {
	r.GET("/file/:fid", d.fileIDGet)
}

func (d *downloadHandle) fileIDGet(c *gin.Context) {
	var uri fileURI
	if err := c.ShouldBindUri(&uri); err != nil {
		c.AbortWithError(http.StatusBadRequest, err)
		return
	}
	if err := d.signer.Verify(uri.FileID, c.Query("expires"), c.Query("sign")); err != nil {
		c.AbortWithError(http.StatusForbidden, err)
		return
	}

	name, r, err := d.fs.Open(uri.FileID)
	if errors.Is(err, filestore.ErrNotFound) {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	defer r.Close()

	typ := mime.TypeByExtension(path.Ext(name))
	if typ == "" {
		typ = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, -1, typ, r, map[string]string{
		"Content-Disposition": fmt.Sprintf("attachment; filename=\"%s\"", name),
	})
}
