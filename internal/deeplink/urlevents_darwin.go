//go:build darwin

package deeplink

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework Cocoa

#import <Cocoa/Cocoa.h>
#include <stdlib.h>
#include <string.h>

static NSMutableArray *pendingLinks = nil;

@interface LinkHandler : NSObject
@end

@implementation LinkHandler

+ (void)handleGetURLEvent:(NSAppleEventDescriptor *)event withReplyEvent:(NSAppleEventDescriptor *)replyEvent {
    NSString *link = [[event paramDescriptorForKeyword:keyDirectObject] stringValue];
    if (link == nil) {
        return;
    }
    @synchronized([LinkHandler class]) {
        if (pendingLinks == nil) {
            pendingLinks = [NSMutableArray new];
        }
        [pendingLinks addObject:[link copy]];
    }
}

@end

static void registerLinkHandler(void) {
    [[NSAppleEventManager sharedAppleEventManager]
        setEventHandler:[LinkHandler class]
        andSelector:@selector(handleGetURLEvent:withReplyEvent:)
        forEventClass:kInternetEventClass
        andEventID:kAEGetURL];
}

// nextLink pops the oldest pending link. The caller frees the result.
static char *nextLink(void) {
    @synchronized([LinkHandler class]) {
        if (pendingLinks == nil || [pendingLinks count] == 0) {
            return NULL;
        }
        NSString *link = [pendingLinks objectAtIndex:0];
        char *out = strdup([link UTF8String]);
        [pendingLinks removeObjectAtIndex:0];
        return out;
    }
}
*/
import "C"

import (
	"context"
	"time"
	"unsafe"
)

// URLEvents registers for GetURL Apple Events and delivers each link until
// ctx is done. It must be called before the application finishes launching
// to receive the link that started it.
func URLEvents(ctx context.Context) <-chan string {
	C.registerLinkHandler()

	out := make(chan string, 4)
	go func() {
		defer close(out)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			for {
				p := C.nextLink()
				if p == nil {
					break
				}
				link := C.GoString(p)
				C.free(unsafe.Pointer(p))
				select {
				case out <- link:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
