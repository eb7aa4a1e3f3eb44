package api

import (
	"cmp"
	"context"
	"slices"

	"github.com/matheus3301/chatsync/internal/directory"
	"github.com/matheus3301/chatsync/internal/store"
	"google.golang.org/grpc"
)

// DirectoryServer is the handler set of DirectoryService.
type DirectoryServer interface {
	SyncContacts(context.Context, *Empty) (*SyncResponse, error)
	ListContacts(context.Context, *Empty) (*ContactsResponse, error)
	SearchCommunities(context.Context, *SearchRequest) (*CommunitiesResponse, error)
}

// DirectoryServiceDesc describes DirectoryService for grpc.Server.RegisterService.
var DirectoryServiceDesc = grpc.ServiceDesc{
	ServiceName: DirectoryServiceName,
	HandlerType: (*DirectoryServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(DirectoryServiceName, "SyncContacts", DirectoryServer.SyncContacts),
		unary(DirectoryServiceName, "ListContacts", DirectoryServer.ListContacts),
		unary(DirectoryServiceName, "SearchCommunities", DirectoryServer.SearchCommunities),
	},
}

// DirectoryService mirrors the remote directory and answers from the local
// copy.
type DirectoryService struct {
	syncer *directory.Syncer
	db     *store.DB
}

// NewDirectoryService creates a new directory service.
func NewDirectoryService(syncer *directory.Syncer, db *store.DB) *DirectoryService {
	return &DirectoryService{syncer: syncer, db: db}
}

func (s *DirectoryService) SyncContacts(ctx context.Context, _ *Empty) (*SyncResponse, error) {
	res, err := s.syncer.SyncContacts(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return &SyncResponse{
		Contacts:    res.Contacts,
		ChatRooms:   res.ChatRooms,
		Communities: res.Communities,
		Linked:      res.Linked,
	}, nil
}

// ListContacts returns the stored contacts sorted by name, then phone.
func (s *DirectoryService) ListContacts(ctx context.Context, _ *Empty) (*ContactsResponse, error) {
	contacts, err := s.db.GetAllContacts(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	out := make([]Contact, len(contacts))
	for i, c := range contacts {
		out[i] = Contact{Phone: c.Phone, Name: c.Name, Profile: c.Profile, RoomID: c.RoomID}
	}
	slices.SortFunc(out, func(a, b Contact) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.Phone, b.Phone)
	})
	return &ContactsResponse{Contacts: out}, nil
}

func (s *DirectoryService) SearchCommunities(ctx context.Context, req *SearchRequest) (*CommunitiesResponse, error) {
	found, err := s.db.SearchCommunities(ctx, req.Keyword)
	if err != nil {
		return nil, toStatus(err)
	}
	out := make([]directory.CommunityDTO, len(found))
	for i, c := range found {
		out[i] = directory.CommunityFromStore(c)
	}
	return &CommunitiesResponse{Communities: out}, nil
}
